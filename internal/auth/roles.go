package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/echannelling-auth/pkg/util/errorutil"
)

// RequirePermission ensures the principal's role is granted every listed permission.
func RequirePermission(table *PermissionTable, required ...Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized(msgTokenRequired)
		}
		if !table.HasAllPermissions(principal.Role(), required) {
			return apperrors.NewForbidden("insufficient permissions")
		}
		return c.Next()
	}
}
