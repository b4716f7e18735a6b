package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound         = errors.New("otp not found")
	ErrExpired          = errors.New("otp expired")
	ErrConsumed         = errors.New("otp already consumed")
	ErrMismatch         = errors.New("otp mismatch")
	ErrAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrUnavailable      = errors.New("otp store unavailable")
)

const (
	fieldCodeHash  = "code_hash"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
	fieldConsumed  = "consumed"
	fieldAttempts  = "attempts"

	maxTxRetries = 4
)

// Store keeps one live challenge per identifier in Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore builds a store. An empty prefix defaults to "otp".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "otp"
	}
	return &Store{redis: client, prefix: prefix, now: time.Now}
}

// WithClock overrides the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) challengeKey(identifier string) string {
	return s.prefix + ":challenge:" + normalize(identifier)
}

func (s *Store) cooldownKey(identifier string) string {
	return s.prefix + ":cooldown:" + normalize(identifier)
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Issue stores code for identifier, replacing any earlier challenge.
func (s *Store) Issue(ctx context.Context, identifier, code string, ttl time.Duration) error {
	key := s.challengeKey(identifier)
	now := s.now()
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldCodeHash, hashCode(identifier, code),
			fieldCreatedAt, now.UnixMilli(),
			fieldExpiresAt, now.Add(ttl).UnixMilli(),
			fieldConsumed, 0,
			fieldAttempts, 0,
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// AcquireCooldown returns false while an earlier issue for identifier is still cooling down.
func (s *Store) AcquireCooldown(ctx context.Context, identifier string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	ok, err := s.redis.SetNX(ctx, s.cooldownKey(identifier), 1, cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Get returns the current challenge for identifier.
func (s *Store) Get(ctx context.Context, identifier string) (*Challenge, error) {
	data, err := s.redis.HGetAll(ctx, s.challengeKey(identifier)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decode(identifier, data)
}

// Consume checks code and marks the challenge consumed in one optimistic transaction.
// Expiry is evaluated at consume time. A wrong code counts an attempt; after maxAttempts
// the challenge is discarded.
func (s *Store) Consume(ctx context.Context, identifier, code string, maxAttempts int) error {
	key := s.challengeKey(identifier)
	provided := hashCode(identifier, code)

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			ch, err := decode(identifier, data)
			if err != nil {
				return err
			}

			if !s.now().Before(ch.ExpiresAt) {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrExpired
			}
			if ch.Consumed {
				return ErrConsumed
			}
			if maxAttempts > 0 && ch.Attempts >= maxAttempts {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrAttemptsExceeded
			}

			if subtle.ConstantTimeCompare([]byte(ch.CodeHash), []byte(provided)) != 1 {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.HIncrBy(ctx, key, fieldAttempts, 1)
					return nil
				}); err != nil {
					return err
				}
				return ErrMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldConsumed, 1)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err == nil || isOtpError(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: too much contention", ErrUnavailable)
}

func isOtpError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) || errors.Is(err, ErrConsumed) ||
		errors.Is(err, ErrMismatch) || errors.Is(err, ErrAttemptsExceeded)
}

// Challenge is the decoded state of a stored code.
type Challenge struct {
	Identifier string
	CodeHash   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Consumed   bool
	Attempts   int
}

func decode(identifier string, data map[string]string) (*Challenge, error) {
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	created, err := strconv.ParseInt(data[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}
	expires, err := strconv.ParseInt(data[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}
	attempts, _ := strconv.Atoi(data[fieldAttempts])
	return &Challenge{
		Identifier: normalize(identifier),
		CodeHash:   data[fieldCodeHash],
		CreatedAt:  time.UnixMilli(created),
		ExpiresAt:  time.UnixMilli(expires),
		Consumed:   data[fieldConsumed] == "1",
		Attempts:   attempts,
	}, nil
}

func hashCode(identifier, code string) string {
	sum := sha256.Sum256([]byte(normalize(identifier) + ":" + strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}

// GenerateCode returns a uniformly random numeric code of the given length.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
