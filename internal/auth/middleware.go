package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/echannelling-auth/internal/domain"
	"github.com/spec-kit/echannelling-auth/internal/repository"
	apperrors "github.com/spec-kit/echannelling-auth/pkg/util/errorutil"
)

const principalKey = "auth_principal"

const (
	msgTokenRequired = "Access token required"
	msgInvalidToken  = "Invalid token"
)

// Principal represents the authenticated caller.
type Principal struct {
	User   *domain.User
	Claims *AccessClaims
}

// UserID returns the caller's id.
func (p *Principal) UserID() string {
	return p.User.ID
}

// Role returns the caller's role as stored, not as claimed.
func (p *Principal) Role() domain.Role {
	return p.User.Role
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
	users  repository.UserRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users repository.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// Handle enforces authentication for protected routes. Clients only learn whether a
// token was missing or rejected.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized(msgTokenRequired)
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return apperrors.NewUnauthorized(msgTokenRequired)
	}

	claims, err := m.tokens.VerifyAccessToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return apperrors.NewUnauthorized(msgInvalidToken)
	}

	user, err := m.users.GetByID(c.UserContext(), claims.UserID())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized(msgInvalidToken)
		}
		return apperrors.MapError(err)
	}
	if !user.IsActive {
		return apperrors.NewUnauthorized(msgInvalidToken)
	}

	c.Locals(principalKey, &Principal{User: user, Claims: claims})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
