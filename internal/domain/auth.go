package domain

import "time"

// RefreshToken is a persisted session. Only the hash of the raw token is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenID   string
	TokenHash string
	ExpiresAt time.Time
	UserAgent string
	IPAddress string
	CreatedAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// PasswordResetToken authorizes exactly one password change.
type PasswordResetToken struct {
	ID                string
	SubjectID         string
	SubjectIdentifier string
	TokenHash         string
	ExpiresAt         time.Time
	UsedAt            *time.Time
	CreatedAt         time.Time
}

// OtpChallenge is a one-time code bound to an identifier during password recovery.
type OtpChallenge struct {
	Identifier string
	CodeHash   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Consumed   bool
	Attempts   int
}

// TokenPair is returned on a successful login.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}
