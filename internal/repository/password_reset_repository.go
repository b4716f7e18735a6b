package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/echannelling-auth/internal/domain"
)

// PasswordResetRepository manages password reset token persistence.
type PasswordResetRepository interface {
	Create(ctx context.Context, token *domain.PasswordResetToken) error
	// Consume marks the token used if it is unused and unexpired at now, returning
	// pgx.ErrNoRows otherwise. Concurrent callers cannot both succeed.
	Consume(ctx context.Context, tokenHash string, now time.Time) (*domain.PasswordResetToken, error)
	InvalidateForSubject(ctx context.Context, subjectID string) error
}

type passwordResetRepository struct {
	pool *pgxpool.Pool
}

// NewPasswordResetRepository constructs repository.
func NewPasswordResetRepository(pool *pgxpool.Pool) PasswordResetRepository {
	return &passwordResetRepository{pool: pool}
}

func (r *passwordResetRepository) Create(ctx context.Context, token *domain.PasswordResetToken) error {
	const query = `
        INSERT INTO password_reset_tokens (subject_id, subject_identifier, token_hash, expires_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		token.SubjectID,
		token.SubjectIdentifier,
		token.TokenHash,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

func (r *passwordResetRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (*domain.PasswordResetToken, error) {
	const query = `
        UPDATE password_reset_tokens SET used_at=$2
        WHERE token_hash=$1 AND used_at IS NULL AND expires_at > $2
        RETURNING id, subject_id, subject_identifier, token_hash, expires_at, used_at, created_at`
	var token domain.PasswordResetToken
	if err := r.pool.QueryRow(ctx, query, tokenHash, now).Scan(
		&token.ID,
		&token.SubjectID,
		&token.SubjectIdentifier,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *passwordResetRepository) InvalidateForSubject(ctx context.Context, subjectID string) error {
	const query = `
        UPDATE password_reset_tokens SET used_at=NOW()
        WHERE subject_id=$1 AND used_at IS NULL`
	_, err := r.pool.Exec(ctx, query, subjectID)
	return err
}
