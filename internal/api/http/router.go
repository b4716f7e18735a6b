package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/echannelling-auth/internal/api/http/handlers"
	"github.com/spec-kit/echannelling-auth/internal/auth"
	"github.com/spec-kit/echannelling-auth/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Users          *handlers.UsersHandler
	AuthMiddleware *auth.AuthMiddleware
	Permissions    *auth.PermissionTable
	Metrics        *observability.Metrics
	RateLimit      fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	if cfg.RateLimit != nil {
		authGroup.Use(cfg.RateLimit)
	}
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Post("/forgot-password", cfg.Auth.ForgotPassword)
	authGroup.Post("/verify-otp", cfg.Auth.VerifyOtp)
	authGroup.Post("/reset-password", cfg.Auth.ResetPassword)
	authGroup.Post("/password/strength", cfg.Auth.PasswordStrength)

	bearer := cfg.AuthMiddleware.Handle
	authGroup.Post("/logout-all", bearer, cfg.Auth.LogoutAll)
	authGroup.Post("/change-password", bearer, cfg.Auth.ChangePassword)
	authGroup.Get("/me", bearer, cfg.Auth.Me)
	authGroup.Post("/2fa/setup", bearer, cfg.Auth.SetupTwoFactor)
	authGroup.Post("/2fa/enable", bearer, cfg.Auth.EnableTwoFactor)

	users := api.Group("/users", bearer)
	users.Post("/", auth.RequirePermission(cfg.Permissions, auth.Perm(auth.ResourceUser, auth.ActionCreate)), cfg.Users.Create)
	users.Patch("/:id/status", auth.RequirePermission(cfg.Permissions, auth.Perm(auth.ResourceUser, auth.ActionUpdate)), cfg.Users.UpdateStatus)

	api.Get("/audit-logs", bearer,
		auth.RequirePermission(cfg.Permissions, auth.Perm(auth.ResourceAuditLog, auth.ActionRead)),
		cfg.Users.ListAuditLogs)
}
