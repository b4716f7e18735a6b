package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/spec-kit/echannelling-auth/internal/audit"
	"github.com/spec-kit/echannelling-auth/internal/auth"
	"github.com/spec-kit/echannelling-auth/internal/config"
	"github.com/spec-kit/echannelling-auth/internal/domain"
	"github.com/spec-kit/echannelling-auth/internal/events"
	"github.com/spec-kit/echannelling-auth/internal/repository"
	apperrors "github.com/spec-kit/echannelling-auth/pkg/util/errorutil"
)

const uniqueViolation = "23505"

// CreateUserInput is the admin request to provision a back-office account.
type CreateUserInput struct {
	Email       string
	DisplayName *string
	Password    string
	Role        domain.Role
}

// AuditPage is one page of audit entries.
type AuditPage struct {
	Entries []domain.AuditEntry
	Total   int
	Page    int
	Limit   int
}

// UserService manages account lifecycle for administrators.
type UserService struct {
	users      repository.UserRepository
	sessions   repository.RefreshTokenRepository
	audits     repository.AuditRepository
	recorder   audit.Recorder
	events     events.Dispatcher
	logger     *zap.Logger
	policy     auth.PasswordPolicy
	bcryptCost int
	now        func() time.Time
}

// UserDependencies encapsulates collaborators for the user service.
type UserDependencies struct {
	UserRepo         repository.UserRepository
	RefreshTokenRepo repository.RefreshTokenRepository
	AuditRepo        repository.AuditRepository
	Audit            audit.Recorder
	Events           events.Dispatcher
	Logger           *zap.Logger
}

// NewUserService builds the service.
func NewUserService(cfg config.Config, deps UserDependencies) *UserService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		users:      deps.UserRepo,
		sessions:   deps.RefreshTokenRepo,
		audits:     deps.AuditRepo,
		recorder:   deps.Audit,
		events:     deps.Events,
		logger:     logger,
		policy:     auth.DefaultPasswordPolicy(),
		bcryptCost: cfg.Auth.BcryptCost,
		now:        time.Now,
	}
}

// CreateUser provisions an active account.
func (s *UserService) CreateUser(ctx context.Context, actorID string, in CreateUserInput, client ClientInfo) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !in.Role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": string(in.Role)})
	}
	if err := s.policy.Validate(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Email:        email,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.record(ctx, domain.AuditUserCreated, actorID, email, true, client, map[string]any{
		"user_id": user.ID,
		"role":    string(user.Role),
	})
	if s.events != nil {
		err := s.events.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventUserCreated,
			UserID:    user.ID,
			Timestamp: s.now().UTC(),
			Payload:   events.UserCreatedPayload{Email: user.Email, Role: string(user.Role)},
		})
		if err != nil {
			s.logger.Warn("event handlers failed", zap.String("event_type", string(events.EventUserCreated)), zap.Error(err))
		}
	}
	return user, nil
}

// EnsureUser creates the account unless one with the same email already exists.
// It reports whether a user was created.
func (s *UserService) EnsureUser(ctx context.Context, in CreateUserInput) (bool, error) {
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return false, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	if _, err := s.CreateUser(ctx, "", in, ClientInfo{}); err != nil {
		return false, err
	}
	return true, nil
}

// SetUserStatus activates or deactivates an account. Deactivation ends every session.
func (s *UserService) SetUserStatus(ctx context.Context, actorID, userID string, active bool, client ClientInfo) (*domain.User, error) {
	if actorID == userID && !active {
		return nil, apperrors.NewValidationError("cannot deactivate your own account", nil)
	}

	if err := s.users.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": userID})
		}
		return nil, fmt.Errorf("set active: %w", err)
	}
	if !active {
		if _, err := s.sessions.DeleteByUser(ctx, userID); err != nil {
			return nil, fmt.Errorf("revoke sessions: %w", err)
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reload user: %w", err)
	}
	s.record(ctx, domain.AuditUserStatusChanged, actorID, user.Email, true, client, map[string]any{
		"user_id":   userID,
		"is_active": active,
	})
	return user, nil
}

// ListAuditLogs pages through the audit trail, newest first.
func (s *UserService) ListAuditLogs(ctx context.Context, page, limit int) (*AuditPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	entries, total, err := s.audits.List(ctx, repository.AuditFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return &AuditPage{Entries: entries, Total: total, Page: page, Limit: limit}, nil
}

func (s *UserService) record(ctx context.Context, action domain.AuditAction, actorID, identifier string, success bool, client ClientInfo, details map[string]any) {
	if s.recorder == nil {
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
	if actorID != "" {
		entry.UserID = &actorID
	}
	s.recorder.Record(ctx, entry)
}
