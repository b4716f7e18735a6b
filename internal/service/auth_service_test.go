package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/echannelling-auth/internal/auth"
	"github.com/spec-kit/echannelling-auth/internal/domain"
	apperrors "github.com/spec-kit/echannelling-auth/pkg/util/errorutil"
)

var client = ClientInfo{IP: "10.0.0.1", UserAgent: "test"}

func TestLoginSucceedsWithDevCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if res.User.LastLoginAt == nil || !res.User.LastLoginAt.Equal(*f.now) {
		t.Fatalf("lastLoginAt = %v", res.User.LastLoginAt)
	}
	if f.sessions.count() != 1 {
		t.Fatalf("sessions = %d, want 1", f.sessions.count())
	}
	if _, err := f.sessions.GetByHash(ctx, res.Tokens.RefreshToken); err == nil {
		t.Fatal("raw refresh token must not be stored")
	}

	claims, err := f.svc.TokenManager().VerifyAccessToken(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims.UserID() != f.admin.ID || claims.Role != domain.RoleAdmin {
		t.Fatalf("claims = %+v", claims)
	}
	if !f.recorder.has(domain.AuditLogin, true) {
		t.Fatal("expected LOGIN audit")
	}
}

func TestLoginRejectsWrongSecondFactor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), adminEmail, adminPassword, "000000", client)
	if !errors.Is(err, auth.ErrInvalid2FA) {
		t.Fatalf("err = %v, want ErrInvalid2FA", err)
	}
	if f.sessions.count() != 0 {
		t.Fatal("no session expected")
	}
	if !f.recorder.has(domain.AuditLoginFailed, false) {
		t.Fatal("expected LOGIN_FAILED audit")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, unknown := f.svc.Login(ctx, "nobody@x.com", adminPassword, devCode, client)
	_, wrong := f.svc.Login(ctx, adminEmail, "Wrong@123", devCode, client)

	if !errors.Is(unknown, auth.ErrInvalidCredentials) || !errors.Is(wrong, auth.ErrInvalidCredentials) {
		t.Fatalf("unknown=%v wrong=%v", unknown, wrong)
	}
	a, b := apperrors.ToDomainError(unknown), apperrors.ToDomainError(wrong)
	if a.Code != b.Code || a.Message != b.Message || a.HTTPStatus != b.HTTPStatus {
		t.Fatalf("responses differ: %+v vs %+v", a, b)
	}
}

func TestLoginByDisplayNameAndCaseInsensitiveEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Login(ctx, "Admin", adminPassword, devCode, client); err != nil {
		t.Fatalf("display name login: %v", err)
	}
	if _, err := f.svc.Login(ctx, "  ADMIN@eChannelling.com ", adminPassword, devCode, client); err != nil {
		t.Fatalf("email login: %v", err)
	}
}

func TestLoginDeactivatedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.users.SetActive(ctx, f.admin.ID, false)

	_, err := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)
	if !errors.Is(err, auth.ErrAccountDeactivated) {
		t.Fatalf("err = %v, want ErrAccountDeactivated", err)
	}
	if f.sessions.count() != 0 {
		t.Fatal("no session expected")
	}
}

func TestTwoFactorEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.EnableTwoFactor(ctx, f.admin.ID, "000000", client); !errors.Is(err, auth.ErrTwoFactorNotPending) {
		t.Fatalf("enable before setup = %v", err)
	}

	setup, err := f.svc.SetupTwoFactor(ctx, f.admin.ID, client)
	if err != nil {
		t.Fatalf("SetupTwoFactor: %v", err)
	}
	if setup.Secret == "" || setup.OtpauthURL == "" {
		t.Fatalf("setup = %+v", setup)
	}

	// Not enforced until confirmed.
	if _, err := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client); err != nil {
		t.Fatalf("login before enable: %v", err)
	}

	stored, _ := f.users.GetByID(ctx, f.admin.ID)
	totp := auth.NewTOTP("eChannelling", 1)
	if err := f.svc.EnableTwoFactor(ctx, f.admin.ID, "000000", client); !errors.Is(err, auth.ErrInvalid2FA) {
		t.Fatalf("enable with bad code = %v", err)
	}
	if err := f.svc.EnableTwoFactor(ctx, f.admin.ID, totp.Code(stored.TOTPSecret, *f.now), client); err != nil {
		t.Fatalf("EnableTwoFactor: %v", err)
	}

	if _, err := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client); !errors.Is(err, auth.ErrInvalid2FA) {
		t.Fatalf("dev code after enrollment = %v, want ErrInvalid2FA", err)
	}
	if _, err := f.svc.Login(ctx, adminEmail, adminPassword, totp.Code(stored.TOTPSecret, *f.now), client); err != nil {
		t.Fatalf("totp login: %v", err)
	}
	if _, err := f.svc.SetupTwoFactor(ctx, f.admin.ID, client); !errors.Is(err, auth.ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("second setup = %v", err)
	}
}

func TestRefreshIssuesAccessTokenWithoutRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.advance(time.Minute)

	access, exp, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken, client)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !exp.Equal(f.now.Add(15 * time.Minute)) {
		t.Fatalf("exp = %v", exp)
	}
	if _, err := f.svc.TokenManager().VerifyAccessToken(access); err != nil {
		t.Fatalf("new access token invalid: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken, client); err != nil {
		t.Fatalf("refresh token should stay valid: %v", err)
	}
}

func TestRefreshRejectsAccessTokenAndUnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)

	if _, _, err := f.svc.Refresh(ctx, res.Tokens.AccessToken, client); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("access as refresh = %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, "garbage", client); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("garbage = %v", err)
	}
	if err := f.svc.Logout(ctx, res.Tokens.RefreshToken, client); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken, client); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("after logout = %v", err)
	}
}

func TestRefreshExpiredDeletesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)
	f.advance(8 * 24 * time.Hour)

	if _, _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken, client); !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
	if f.sessions.count() != 0 {
		t.Fatal("expired session should be deleted")
	}
}

func TestRefreshDeactivatedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)
	_ = f.users.SetActive(ctx, f.admin.ID, false)

	if _, _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken, client); !errors.Is(err, auth.ErrAccountDeactivated) {
		t.Fatalf("err = %v, want ErrAccountDeactivated", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)
	for i := 0; i < 2; i++ {
		if err := f.svc.Logout(ctx, res.Tokens.RefreshToken, client); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
	}
	if err := f.svc.Logout(ctx, "not-a-token", client); err != nil {
		t.Fatalf("malformed logout: %v", err)
	}
	if err := f.svc.Logout(ctx, "", client); err != nil {
		t.Fatalf("empty logout: %v", err)
	}
	if f.sessions.count() != 0 {
		t.Fatal("session should be gone")
	}
}

func TestLogoutAllEndsEverySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)
	second, _ := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)
	other := f.seedUser(t, "agent@echannelling.com", "", "Agent@123", domain.RoleAgent)
	if _, err := f.svc.Login(ctx, other.Email, "Agent@123", devCode, client); err != nil {
		t.Fatalf("agent login: %v", err)
	}

	if err := f.svc.LogoutAll(ctx, f.admin.ID, client); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	for _, tok := range []string{first.Tokens.RefreshToken, second.Tokens.RefreshToken} {
		if _, _, err := f.svc.Refresh(ctx, tok, client); !errors.Is(err, auth.ErrInvalidToken) {
			t.Fatalf("refresh after logout-all = %v", err)
		}
	}
	if f.sessions.count() != 1 {
		t.Fatalf("other user's session should remain, got %d", f.sessions.count())
	}
}

func TestPasswordRecoveryFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	latest := f.captureOtp()

	session, _ := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)

	msg, err := f.svc.ForgotPassword(ctx, adminEmail, client)
	if err != nil || msg != ForgotPasswordMessage {
		t.Fatalf("ForgotPassword = %q, %v", msg, err)
	}
	code, count := latest()
	if count != 1 || len(code) != 6 {
		t.Fatalf("code=%q count=%d", code, count)
	}

	resetToken, _, err := f.svc.VerifyOtp(ctx, adminEmail, code, client)
	if err != nil {
		t.Fatalf("VerifyOtp: %v", err)
	}
	if resetToken == "" {
		t.Fatal("expected reset token")
	}
	if _, _, err := f.svc.VerifyOtp(ctx, adminEmail, code, client); !errors.Is(err, auth.ErrInvalidOtp) {
		t.Fatalf("second verify = %v, want ErrInvalidOtp", err)
	}

	if err := f.svc.ResetPassword(ctx, resetToken, "NewPass#42", client); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, resetToken, "Another#42", client); !errors.Is(err, auth.ErrInvalidOrExpiredResetToken) {
		t.Fatalf("reuse = %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, session.Tokens.RefreshToken, client); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("old session should be revoked, got %v", err)
	}
	if _, err := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("old password = %v", err)
	}
	if _, err := f.svc.Login(ctx, adminEmail, "NewPass#42", devCode, client); err != nil {
		t.Fatalf("new password: %v", err)
	}
	for _, action := range []domain.AuditAction{domain.AuditPasswordResetRequested, domain.AuditOtpVerified, domain.AuditPasswordReset} {
		if !f.recorder.has(action, true) {
			t.Fatalf("missing audit %s", action)
		}
	}
}

func TestForgotPasswordUnknownIdentifierIssuesNothing(t *testing.T) {
	f := newFixture(t)
	latest := f.captureOtp()

	msg, err := f.svc.ForgotPassword(context.Background(), "nonexistent@x.com", client)
	if err != nil || msg != ForgotPasswordMessage {
		t.Fatalf("ForgotPassword = %q, %v", msg, err)
	}
	if _, count := latest(); count != 0 {
		t.Fatalf("issued %d codes, want 0", count)
	}
	if keys := f.redis.Keys(); len(keys) != 0 {
		t.Fatalf("redis keys = %v, want none", keys)
	}
}

func TestForgotPasswordCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	latest := f.captureOtp()

	_, _ = f.svc.ForgotPassword(ctx, adminEmail, client)
	msg, err := f.svc.ForgotPassword(ctx, adminEmail, client)
	if err != nil || msg != ForgotPasswordMessage {
		t.Fatalf("second request = %q, %v", msg, err)
	}
	if _, count := latest(); count != 1 {
		t.Fatalf("codes issued = %d, want 1 during cooldown", count)
	}

	f.redis.FastForward(61 * time.Second)
	_, _ = f.svc.ForgotPassword(ctx, adminEmail, client)
	if _, count := latest(); count != 2 {
		t.Fatalf("codes issued = %d, want 2 after cooldown", count)
	}
	current, _ := latest()
	if _, _, err := f.svc.VerifyOtp(ctx, adminEmail, current, client); err != nil {
		t.Fatalf("reissued code: %v", err)
	}
}

func TestVerifyOtpFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	latest := f.captureOtp()

	if _, _, err := f.svc.VerifyOtp(ctx, "nobody@x.com", "123456", client); !errors.Is(err, auth.ErrInvalidOtp) {
		t.Fatalf("unknown identifier = %v", err)
	}
	if _, _, err := f.svc.VerifyOtp(ctx, adminEmail, "123456", client); !errors.Is(err, auth.ErrInvalidOtp) {
		t.Fatalf("no challenge = %v", err)
	}

	_, _ = f.svc.ForgotPassword(ctx, adminEmail, client)
	code, _ := latest()
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 0; i < 5; i++ {
		if _, _, err := f.svc.VerifyOtp(ctx, adminEmail, wrong, client); !errors.Is(err, auth.ErrInvalidOtp) {
			t.Fatalf("attempt %d = %v", i, err)
		}
	}
	if _, _, err := f.svc.VerifyOtp(ctx, adminEmail, code, client); !errors.Is(err, auth.ErrInvalidOtp) {
		t.Fatalf("after max attempts = %v, want ErrInvalidOtp", err)
	}
	if !f.recorder.has(domain.AuditOtpRejected, false) {
		t.Fatal("expected OTP_REJECTED audit")
	}
}

func TestVerifyOtpExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	latest := f.captureOtp()

	_, _ = f.svc.ForgotPassword(ctx, adminEmail, client)
	code, _ := latest()
	f.advance(10 * time.Minute)

	if _, _, err := f.svc.VerifyOtp(ctx, adminEmail, code, client); !errors.Is(err, auth.ErrInvalidOtp) {
		t.Fatalf("err = %v, want ErrInvalidOtp", err)
	}
}

func (f *fixture) resetToken(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	latest := f.captureOtp()
	if _, err := f.svc.ForgotPassword(ctx, adminEmail, client); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	code, _ := latest()
	token, _, err := f.svc.VerifyOtp(ctx, adminEmail, code, client)
	if err != nil {
		t.Fatalf("VerifyOtp: %v", err)
	}
	return token
}

func TestResetPasswordPolicyViolationKeepsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.resetToken(t)

	err := f.svc.ResetPassword(ctx, token, "abcdefgh", client)
	if !errors.Is(err, auth.ErrPasswordPolicyViolation) {
		t.Fatalf("err = %v, want ErrPasswordPolicyViolation", err)
	}
	de := apperrors.ToDomainError(err)
	if de.Code != "PASSWORD_POLICY_VIOLATION" || de.Details["failedRules"] == nil {
		t.Fatalf("domain error = %+v", de)
	}

	if err := f.svc.ResetPassword(ctx, token, "Abcdef1!", client); err != nil {
		t.Fatalf("token should survive a policy failure: %v", err)
	}
}

func TestOverlongPasswordIsPolicyViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := "Aa1!" + strings.Repeat("x", 76)

	token := f.resetToken(t)
	err := f.svc.ResetPassword(ctx, token, long, client)
	if code := domainCode(err); code != "PASSWORD_POLICY_VIOLATION" {
		t.Fatalf("reset code = %q (err %v)", code, err)
	}
	if err := f.svc.ResetPassword(ctx, token, "Abcdef1!", client); err != nil {
		t.Fatalf("token should survive an over-long password: %v", err)
	}

	err = f.svc.ChangePassword(ctx, f.admin.ID, "Abcdef1!", long, "", client)
	if code := domainCode(err); code != "PASSWORD_POLICY_VIOLATION" {
		t.Fatalf("change code = %q (err %v)", code, err)
	}

	users := newUserService(f, &memAudit{})
	_, err = users.CreateUser(ctx, f.admin.ID, CreateUserInput{Email: "long@echannelling.com", Password: long, Role: domain.RoleAgent}, client)
	if code := domainCode(err); code != "PASSWORD_POLICY_VIOLATION" {
		t.Fatalf("create code = %q (err %v)", code, err)
	}
}

func TestResetPasswordExpiredToken(t *testing.T) {
	f := newFixture(t)
	token := f.resetToken(t)
	f.advance(time.Hour)

	if err := f.svc.ResetPassword(context.Background(), token, "Abcdef1!", client); !errors.Is(err, auth.ErrInvalidOrExpiredResetToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyOtpSupersedesEarlierResetToken(t *testing.T) {
	f := newFixture(t)
	first := f.resetToken(t)
	f.redis.FastForward(61 * time.Second)
	second := f.resetToken(t)

	ctx := context.Background()
	if err := f.svc.ResetPassword(ctx, first, "Abcdef1!", client); !errors.Is(err, auth.ErrInvalidOrExpiredResetToken) {
		t.Fatalf("first token = %v", err)
	}
	if err := f.svc.ResetPassword(ctx, second, "Abcdef1!", client); err != nil {
		t.Fatalf("second token: %v", err)
	}
}

func TestConcurrentResetSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	token := f.resetToken(t)

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.ResetPassword(context.Background(), token, "Abcdef1!", client); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, _ := f.svc.Login(ctx, adminEmail, adminPassword, devCode, client)

	tests := []struct {
		name    string
		current string
		next    string
		confirm string
		want    error
	}{
		{"mismatch", adminPassword, "Abcdef1!", "Abcdef1?", auth.ErrPasswordMismatch},
		{"policy", adminPassword, "short", "", auth.ErrPasswordPolicyViolation},
		{"wrong current", "Wrong@123", "Abcdef1!", "Abcdef1!", auth.ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.ChangePassword(ctx, f.admin.ID, tt.current, tt.next, tt.confirm, client)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if f.sessions.count() != 1 {
		t.Fatal("failed changes must not revoke sessions")
	}

	if err := f.svc.ChangePassword(ctx, f.admin.ID, adminPassword, "Abcdef1!", "Abcdef1!", client); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, session.Tokens.RefreshToken, client); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("sessions should be revoked, got %v", err)
	}
	if _, err := f.svc.Login(ctx, adminEmail, "Abcdef1!", devCode, client); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if !f.recorder.has(domain.AuditPasswordChanged, true) {
		t.Fatal("expected PASSWORD_CHANGED audit")
	}
}
