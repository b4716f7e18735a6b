package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/echannelling-auth/internal/audit"
	"github.com/spec-kit/echannelling-auth/internal/auth"
	"github.com/spec-kit/echannelling-auth/internal/config"
	"github.com/spec-kit/echannelling-auth/internal/domain"
	"github.com/spec-kit/echannelling-auth/internal/events"
	"github.com/spec-kit/echannelling-auth/internal/otp"
	"github.com/spec-kit/echannelling-auth/internal/repository"
)

// ForgotPasswordMessage is returned whether or not the identifier exists.
const ForgotPasswordMessage = "If an account exists for this identifier, a verification code has been sent."

// ClientInfo describes where a request came from, for the audit trail.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// OTPStore keeps forgot-password codes.
type OTPStore interface {
	Issue(ctx context.Context, identifier, code string, ttl time.Duration) error
	AcquireCooldown(ctx context.Context, identifier string, cooldown time.Duration) (bool, error)
	Consume(ctx context.Context, identifier, code string, maxAttempts int) error
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User   *domain.User
	Tokens domain.TokenPair
}

// TwoFactorSetup is returned when a user starts TOTP enrollment.
type TwoFactorSetup struct {
	Secret     string
	OtpauthURL string
}

// AuthService coordinates login, session and password recovery flows.
type AuthService struct {
	users      repository.UserRepository
	sessions   repository.RefreshTokenRepository
	resets     repository.PasswordResetRepository
	otps       OTPStore
	audit      audit.Recorder
	events     events.Dispatcher
	logger     *zap.Logger
	tokenMgr   *auth.TokenManager
	totp       *auth.TOTP
	policy     auth.PasswordPolicy
	bcryptCost int
	resetTTL   time.Duration
	devCode    string
	otpCfg     config.OTPConfig
	now        func() time.Time
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo          repository.UserRepository
	RefreshTokenRepo  repository.RefreshTokenRepository
	PasswordResetRepo repository.PasswordResetRepository
	OTPStore          OTPStore
	Audit             audit.Recorder
	Events            events.Dispatcher
	Logger            *zap.Logger
	Now               func() time.Time
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:    deps.UserRepo,
		sessions: deps.RefreshTokenRepo,
		resets:   deps.PasswordResetRepo,
		otps:     deps.OTPStore,
		audit:    deps.Audit,
		events:   deps.Events,
		logger:   logger,
		tokenMgr: auth.NewTokenManager(auth.IssuerConfig{
			AccessSecret:  cfg.Auth.AccessTokenSecret,
			RefreshSecret: cfg.Auth.RefreshTokenSecret,
			AccessTTL:     cfg.Auth.AccessTokenTTL(),
			RefreshTTL:    cfg.Auth.RefreshTokenTTL(),
			Issuer:        cfg.App.Name,
			Now:           now,
		}),
		totp:       auth.NewTOTP(cfg.Auth.TOTPIssuer, cfg.Auth.TOTPSkew),
		policy:     auth.DefaultPasswordPolicy(),
		bcryptCost: cfg.Auth.BcryptCost,
		resetTTL:   cfg.Auth.PasswordResetTTL(),
		devCode:    cfg.Auth.DevTwoFactorCode,
		otpCfg:     cfg.OTP,
		now:        now,
	}
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// PasswordPolicy exposes the active policy.
func (s *AuthService) PasswordPolicy() auth.PasswordPolicy {
	return s.policy
}

// Login verifies credentials and the second factor, then opens a new session.
func (s *AuthService) Login(ctx context.Context, username, password, twoFACode string, client ClientInfo) (*LoginResult, error) {
	username = strings.TrimSpace(username)

	user, err := s.users.FindByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.BurnPasswordCheck(password)
			s.record(ctx, domain.AuditLoginFailed, nil, username, false, client, map[string]any{"reason": "unknown_user"})
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		s.record(ctx, domain.AuditLoginFailed, user, username, false, client, map[string]any{"reason": "bad_password"})
		return nil, auth.ErrInvalidCredentials
	}
	if !user.IsActive {
		s.record(ctx, domain.AuditLoginFailed, user, username, false, client, map[string]any{"reason": "deactivated"})
		return nil, auth.ErrAccountDeactivated
	}
	if !s.verifySecondFactor(user, twoFACode) {
		s.record(ctx, domain.AuditLoginFailed, user, username, false, client, map[string]any{"reason": "bad_2fa"})
		return nil, auth.ErrInvalid2FA
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}
	user.LastLoginAt = &now

	tokens, err := s.openSession(ctx, user, client)
	if err != nil {
		return nil, err
	}

	s.record(ctx, domain.AuditLogin, user, username, true, client, nil)
	return &LoginResult{User: user, Tokens: *tokens}, nil
}

func (s *AuthService) verifySecondFactor(user *domain.User, code string) bool {
	code = strings.TrimSpace(code)
	if user.TOTPEnabled && len(user.TOTPSecret) > 0 {
		return s.totp.Verify(user.TOTPSecret, code, s.now())
	}
	if s.devCode == "" || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(s.devCode)) == 1
}

func (s *AuthService) openSession(ctx context.Context, user *domain.User, client ClientInfo) (*domain.TokenPair, error) {
	access, accessExp, err := s.tokenMgr.IssueAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	tokenID := uuid.NewString()
	refresh, refreshExp, err := s.tokenMgr.IssueRefreshToken(user.ID, tokenID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	session := &domain.RefreshToken{
		UserID:    user.ID,
		TokenID:   tokenID,
		TokenHash: auth.HashToken(refresh),
		ExpiresAt: refreshExp,
		UserAgent: client.UserAgent,
		IPAddress: client.IP,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

// Refresh mints a new access token from a live session. The refresh token is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (string, time.Time, error) {
	hash := auth.HashToken(refreshToken)

	claims, err := s.tokenMgr.VerifyRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			if delErr := s.sessions.DeleteByHash(ctx, hash); delErr != nil {
				s.logger.Warn("delete stale refresh token", zap.Error(delErr))
			}
			return "", time.Time{}, auth.ErrTokenExpired
		}
		return "", time.Time{}, auth.ErrInvalidToken
	}

	session, err := s.sessions.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", time.Time{}, auth.ErrInvalidToken
		}
		return "", time.Time{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if session.UserID != claims.UserID() || session.TokenID != claims.TokenID() {
		return "", time.Time{}, auth.ErrInvalidToken
	}
	if session.Expired(s.now()) {
		if err := s.sessions.DeleteByHash(ctx, hash); err != nil {
			return "", time.Time{}, fmt.Errorf("delete expired refresh token: %w", err)
		}
		return "", time.Time{}, auth.ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", time.Time{}, auth.ErrInvalidToken
		}
		return "", time.Time{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return "", time.Time{}, auth.ErrAccountDeactivated
	}

	access, exp, err := s.tokenMgr.IssueAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue access token: %w", err)
	}
	s.record(ctx, domain.AuditTokenRefresh, user, user.Email, true, client, nil)
	return access, exp, nil
}

// Logout removes the session for refreshToken. Unknown or malformed tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, client ClientInfo) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	if err := s.sessions.DeleteByHash(ctx, auth.HashToken(refreshToken)); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	var actor *domain.User
	if claims, err := s.tokenMgr.VerifyRefreshToken(refreshToken); err == nil {
		actor = &domain.User{ID: claims.UserID()}
	}
	s.record(ctx, domain.AuditLogout, actor, "", true, client, nil)
	return nil
}

// LogoutAll ends every session owned by userID.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, client ClientInfo) error {
	n, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	s.record(ctx, domain.AuditLogoutAll, &domain.User{ID: userID}, "", true, client, map[string]any{"sessions": n})
	return nil
}

// ForgotPassword sends a one-time code when identifier names an active account. The
// response never reveals whether it did.
func (s *AuthService) ForgotPassword(ctx context.Context, identifier string, client ClientInfo) (string, error) {
	identifier = strings.TrimSpace(identifier)

	user, err := s.users.FindByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.record(ctx, domain.AuditPasswordResetRequested, nil, identifier, false, client, map[string]any{"reason": "unknown_user"})
			return ForgotPasswordMessage, nil
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		s.record(ctx, domain.AuditPasswordResetRequested, user, identifier, false, client, map[string]any{"reason": "deactivated"})
		return ForgotPasswordMessage, nil
	}

	allowed, err := s.otps.AcquireCooldown(ctx, user.Email, s.otpCfg.ResendCooldown())
	if err != nil {
		return "", err
	}
	if !allowed {
		s.record(ctx, domain.AuditPasswordResetRequested, user, identifier, false, client, map[string]any{"reason": "cooldown"})
		return ForgotPasswordMessage, nil
	}

	code, err := otp.GenerateCode(s.otpCfg.Length)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	ttl := s.otpCfg.TTL()
	if err := s.otps.Issue(ctx, user.Email, code, ttl); err != nil {
		return "", err
	}

	s.publish(ctx, events.Event{
		Type:   events.EventOtpIssued,
		UserID: user.ID,
		Payload: events.OtpIssuedPayload{
			Identifier: identifier,
			Email:      user.Email,
			Code:       code,
			ExpiresAt:  s.now().Add(ttl),
		},
	})
	s.record(ctx, domain.AuditPasswordResetRequested, user, identifier, true, client, nil)
	return ForgotPasswordMessage, nil
}

// VerifyOtp consumes a code and issues a single-use reset token.
func (s *AuthService) VerifyOtp(ctx context.Context, identifier, code string, client ClientInfo) (string, time.Time, error) {
	identifier = strings.TrimSpace(identifier)

	user, err := s.users.FindByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.record(ctx, domain.AuditOtpRejected, nil, identifier, false, client, map[string]any{"reason": "unknown_user"})
			return "", time.Time{}, auth.ErrInvalidOtp
		}
		return "", time.Time{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := s.otps.Consume(ctx, user.Email, code, s.otpCfg.MaxAttempts); err != nil {
		if errors.Is(err, otp.ErrUnavailable) {
			return "", time.Time{}, err
		}
		s.record(ctx, domain.AuditOtpRejected, user, identifier, false, client, map[string]any{"reason": err.Error()})
		return "", time.Time{}, auth.ErrInvalidOtp
	}

	if err := s.resets.InvalidateForSubject(ctx, user.ID); err != nil {
		return "", time.Time{}, fmt.Errorf("invalidate reset tokens: %w", err)
	}
	raw, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate reset token: %w", err)
	}
	token := &domain.PasswordResetToken{
		SubjectID:         user.ID,
		SubjectIdentifier: user.Email,
		TokenHash:         hash,
		ExpiresAt:         s.now().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return "", time.Time{}, fmt.Errorf("persist reset token: %w", err)
	}

	s.record(ctx, domain.AuditOtpVerified, user, identifier, true, client, nil)
	return raw, token.ExpiresAt, nil
}

// ResetPassword spends a reset token to set a new password and signs the user out everywhere.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string, client ClientInfo) error {
	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}

	token, err := s.resets.Consume(ctx, auth.HashToken(strings.TrimSpace(resetToken)), s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.ErrInvalidOrExpiredResetToken
		}
		return fmt.Errorf("consume reset token: %w", err)
	}

	user, err := s.users.GetByID(ctx, token.SubjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.ErrInvalidOrExpiredResetToken
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	if err := s.storePassword(ctx, user, newPassword); err != nil {
		return err
	}
	s.record(ctx, domain.AuditPasswordReset, user, token.SubjectIdentifier, true, client, nil)
	s.publish(ctx, events.Event{
		Type:    events.EventPasswordChanged,
		UserID:  user.ID,
		Payload: events.PasswordChangedPayload{Email: user.Email, Reason: "reset"},
	})
	return nil
}

// ChangePassword replaces the password of an authenticated user after checking the current one.
// An empty confirmation skips the match check.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, confirmPassword string, client ClientInfo) error {
	if confirmPassword != "" && confirmPassword != newPassword {
		return auth.ErrPasswordMismatch
	}
	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.ErrInvalidCredentials
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		s.record(ctx, domain.AuditPasswordChanged, user, user.Email, false, client, map[string]any{"reason": "bad_password"})
		return auth.ErrInvalidCredentials
	}

	if err := s.storePassword(ctx, user, newPassword); err != nil {
		return err
	}
	s.record(ctx, domain.AuditPasswordChanged, user, user.Email, true, client, nil)
	s.publish(ctx, events.Event{
		Type:    events.EventPasswordChanged,
		UserID:  user.ID,
		Payload: events.PasswordChangedPayload{Email: user.Email, Reason: "change"},
	})
	return nil
}

func (s *AuthService) storePassword(ctx context.Context, user *domain.User, password string) error {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	user.PasswordHash = hash
	if _, err := s.sessions.DeleteByUser(ctx, user.ID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// SetupTwoFactor generates a TOTP secret for userID. It takes effect once confirmed.
func (s *AuthService) SetupTwoFactor(ctx context.Context, userID string, client ClientInfo) (*TwoFactorSetup, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.TOTPEnabled {
		return nil, auth.ErrTwoFactorAlreadyEnabled
	}

	raw, encoded, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	if err := s.users.SetTOTP(ctx, user.ID, raw, false); err != nil {
		return nil, fmt.Errorf("store totp secret: %w", err)
	}

	s.record(ctx, domain.AuditTwoFactorSetup, user, user.Email, true, client, nil)
	return &TwoFactorSetup{Secret: encoded, OtpauthURL: s.totp.ProvisionURI(encoded, user.Email)}, nil
}

// EnableTwoFactor confirms enrollment with a code from the authenticator.
func (s *AuthService) EnableTwoFactor(ctx context.Context, userID, code string, client ClientInfo) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.TOTPEnabled || len(user.TOTPSecret) == 0 {
		return auth.ErrTwoFactorNotPending
	}
	if !s.totp.Verify(user.TOTPSecret, code, s.now()) {
		s.record(ctx, domain.AuditTwoFactorEnabled, user, user.Email, false, client, nil)
		return auth.ErrInvalid2FA
	}
	if err := s.users.SetTOTP(ctx, user.ID, user.TOTPSecret, true); err != nil {
		return fmt.Errorf("enable totp: %w", err)
	}
	s.record(ctx, domain.AuditTwoFactorEnabled, user, user.Email, true, client, nil)
	return nil
}

func (s *AuthService) record(ctx context.Context, action domain.AuditAction, user *domain.User, identifier string, success bool, client ClientInfo, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		Action:     action,
		Identifier: identifier,
		Success:    success,
		IPAddress:  client.IP,
		UserAgent:  client.UserAgent,
		Details:    details,
	}
	if user != nil && user.ID != "" {
		id := user.ID
		entry.UserID = &id
	}
	s.audit.Record(ctx, entry)
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed",
			zap.String("event_type", string(event.Type)),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
}
