package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/echannelling-auth/internal/auth"
	"github.com/spec-kit/echannelling-auth/internal/config"
	"github.com/spec-kit/echannelling-auth/internal/domain"
	"github.com/spec-kit/echannelling-auth/internal/events"
	"github.com/spec-kit/echannelling-auth/internal/otp"
	"github.com/spec-kit/echannelling-auth/internal/repository"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*domain.User{}}
}

func (r *memUsers) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = uuid.NewString()
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now().Add(time.Duration(len(r.users)) * time.Millisecond)
	user.UpdatedAt = user.CreatedAt
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memUsers) FindByLogin(ctx context.Context, identifier string) (*domain.User, error) {
	if u, err := r.GetByEmail(ctx, identifier); err == nil {
		return u, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var match *domain.User
	for _, u := range r.users {
		if u.DisplayName != nil && *u.DisplayName == identifier {
			if match == nil || u.CreatedAt.Before(match.CreatedAt) {
				match = u
			}
		}
	}
	if match == nil {
		return nil, pgx.ErrNoRows
	}
	cp := *match
	return &cp, nil
}

func (r *memUsers) update(id string, fn func(u *domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fn(u)
	return nil
}

func (r *memUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *domain.User) { u.LastLoginAt = &at })
}

func (r *memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	return r.update(id, func(u *domain.User) { u.PasswordHash = hash })
}

func (r *memUsers) SetActive(_ context.Context, id string, active bool) error {
	return r.update(id, func(u *domain.User) { u.IsActive = active })
}

func (r *memUsers) SetTOTP(_ context.Context, id string, secret []byte, enabled bool) error {
	return r.update(id, func(u *domain.User) {
		u.TOTPSecret = secret
		u.TOTPEnabled = enabled
	})
}

type memSessions struct {
	mu   sync.Mutex
	rows map[string]domain.RefreshToken
}

func newMemSessions() *memSessions {
	return &memSessions{rows: map[string]domain.RefreshToken{}}
}

func (r *memSessions) Create(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = uuid.NewString()
	r.rows[t.TokenHash] = *t
	return nil
}

func (r *memSessions) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[hash]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (r *memSessions) DeleteByHash(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, hash)
	return nil
}

func (r *memSessions) DeleteByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, t := range r.rows {
		if t.UserID == userID {
			delete(r.rows, h)
			n++
		}
	}
	return n, nil
}

func (r *memSessions) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

func (r *memSessions) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type memResets struct {
	mu     sync.Mutex
	tokens []*domain.PasswordResetToken
}

func (r *memResets) Create(_ context.Context, t *domain.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = uuid.NewString()
	cp := *t
	r.tokens = append(r.tokens, &cp)
	return nil
}

func (r *memResets) Consume(_ context.Context, hash string, now time.Time) (*domain.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash && t.UsedAt == nil && now.Before(t.ExpiresAt) {
			used := now
			t.UsedAt = &used
			cp := *t
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memResets) InvalidateForSubject(_ context.Context, subjectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, t := range r.tokens {
		if t.SubjectID == subjectID && t.UsedAt == nil {
			t.UsedAt = &now
		}
	}
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (r *memAudit) Insert(_ context.Context, e *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memAudit) List(_ context.Context, f repository.AuditFilter) ([]domain.AuditEntry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := append([]domain.AuditEntry{}, r.entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	total := len(sorted)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return sorted[f.Offset:end], total, nil
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (r *captureRecorder) Record(_ context.Context, e domain.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *captureRecorder) has(action domain.AuditAction, success bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Action == action && e.Success == success {
			return true
		}
	}
	return false
}

const (
	adminEmail    = "admin@echannelling.com"
	adminPassword = "Admin@123"
	devCode       = "123456"
)

func testConfig() config.Config {
	return config.Config{
		App: config.AppConfig{Name: "echannelling-auth"},
		Auth: config.AuthConfig{
			AccessTokenSecret:       "test-access-secret",
			RefreshTokenSecret:      "test-refresh-secret",
			AccessTokenTTLMinutes:   15,
			RefreshTokenTTLHours:    168,
			PasswordResetTTLMinutes: 60,
			BcryptCost:              4,
			DevTwoFactorCode:        devCode,
			TOTPIssuer:              "eChannelling",
			TOTPSkew:                1,
		},
		OTP: config.OTPConfig{
			TTLMinutes:            10,
			Length:                6,
			MaxAttempts:           5,
			ResendCooldownSeconds: 60,
		},
	}
}

type fixture struct {
	svc      *AuthService
	users    *memUsers
	sessions *memSessions
	resets   *memResets
	recorder *captureRecorder
	events   events.Dispatcher
	redis    *miniredis.Miniredis
	now      *time.Time
	admin    *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &fixture{
		users:    newMemUsers(),
		sessions: newMemSessions(),
		resets:   &memResets{},
		recorder: &captureRecorder{},
		events:   events.NewInMemoryDispatcher(),
		redis:    mr,
		now:      &now,
	}
	f.svc = NewAuthService(testConfig(), AuthDependencies{
		UserRepo:          f.users,
		RefreshTokenRepo:  f.sessions,
		PasswordResetRepo: f.resets,
		OTPStore:          otp.NewStore(rdb, "otp").WithClock(clock),
		Audit:             f.recorder,
		Events:            f.events,
		Now:               clock,
	})
	f.admin = f.seedUser(t, adminEmail, "Admin", adminPassword, domain.RoleAdmin)
	return f
}

func (f *fixture) seedUser(t *testing.T, email, name, password string, role domain.Role) *domain.User {
	t.Helper()
	hash, err := auth.HashPassword(password, 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &domain.User{Email: email, PasswordHash: hash, Role: role, IsActive: true}
	if name != "" {
		user.DisplayName = &name
	}
	if err := f.users.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

// captureOtp subscribes to issued codes and returns a func reporting the latest one.
func (f *fixture) captureOtp() func() (string, int) {
	var (
		mu    sync.Mutex
		code  string
		count int
	)
	f.events.Subscribe(events.EventOtpIssued, func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		code = e.Payload.(events.OtpIssuedPayload).Code
		count++
		return nil
	})
	return func() (string, int) {
		mu.Lock()
		defer mu.Unlock()
		return code, count
	}
}
