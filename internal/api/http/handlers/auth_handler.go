package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/echannelling-auth/internal/api/dto"
	"github.com/spec-kit/echannelling-auth/internal/auth"
	"github.com/spec-kit/echannelling-auth/internal/service"
	apperrors "github.com/spec-kit/echannelling-auth/pkg/util/errorutil"
)

// AuthHandler exposes the /api/auth endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

func principal(c *fiber.Ctx) (*auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("Access token required")
	}
	return p, nil
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	res, err := h.auth.Login(c.UserContext(), req.Username, req.Password, req.TwoFA, clientInfo(c))
	if err != nil {
		return err
	}

	return data(c, http.StatusOK, dto.LoginResponse{
		User:                  dto.NewUserResponse(res.User),
		AccessToken:           res.Tokens.AccessToken,
		AccessTokenExpiresAt:  res.Tokens.AccessTokenExpiresAt,
		RefreshToken:          res.Tokens.RefreshToken,
		RefreshTokenExpiresAt: res.Tokens.RefreshTokenExpiresAt,
	})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	token, exp, err := h.auth.Refresh(c.UserContext(), req.RefreshToken, clientInfo(c))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.RefreshResponse{AccessToken: token, ExpiresAt: exp})
}

// Logout handles POST /api/auth/logout. Unknown tokens still succeed.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	if err := h.auth.Logout(c.UserContext(), req.RefreshToken, clientInfo(c)); err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.MessageResponse{Success: true, Message: "Logged out"})
}

// LogoutAll handles POST /api/auth/logout-all.
func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.auth.LogoutAll(c.UserContext(), p.UserID(), clientInfo(c)); err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.MessageResponse{Success: true, Message: "Logged out from all sessions"})
}

// ForgotPassword handles POST /api/auth/forgot-password.
func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var req dto.ForgotPasswordRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	msg, err := h.auth.ForgotPassword(c.UserContext(), req.Email, clientInfo(c))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.MessageResponse{Success: true, Message: msg})
}

// VerifyOtp handles POST /api/auth/verify-otp.
func (h *AuthHandler) VerifyOtp(c *fiber.Ctx) error {
	var req dto.VerifyOtpRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	token, exp, err := h.auth.VerifyOtp(c.UserContext(), req.Identifier, req.Otp, clientInfo(c))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.VerifyOtpResponse{
		Success:    true,
		ResetToken: token,
		ExpiresAt:  exp,
		Message:    "Code verified. Use the reset token to choose a new password.",
	})
}

// ResetPassword handles POST /api/auth/reset-password.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	if err := h.auth.ResetPassword(c.UserContext(), req.Token, req.Password, clientInfo(c)); err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.MessageResponse{Success: true, Message: "Password has been reset"})
}

// ChangePassword handles POST /api/auth/change-password.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.ChangePasswordRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	err = h.auth.ChangePassword(c.UserContext(), p.UserID(), req.CurrentPassword, req.NewPassword, req.ConfirmPassword, clientInfo(c))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.MessageResponse{Success: true, Message: "Password changed"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponse(p.User))
}

// SetupTwoFactor handles POST /api/auth/2fa/setup.
func (h *AuthHandler) SetupTwoFactor(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	setup, err := h.auth.SetupTwoFactor(c.UserContext(), p.UserID(), clientInfo(c))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.TwoFactorSetupResponse{Secret: setup.Secret, OtpauthURL: setup.OtpauthURL})
}

// EnableTwoFactor handles POST /api/auth/2fa/enable.
func (h *AuthHandler) EnableTwoFactor(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.EnableTwoFactorRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := h.auth.EnableTwoFactor(c.UserContext(), p.UserID(), req.Code, clientInfo(c)); err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.MessageResponse{Success: true, Message: "Two-factor authentication enabled"})
}

// PasswordStrength handles POST /api/auth/password/strength.
func (h *AuthHandler) PasswordStrength(c *fiber.Ctx) error {
	var req dto.PasswordStrengthRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	report := h.auth.PasswordPolicy().Evaluate(req.Password)
	return data(c, http.StatusOK, fiber.Map{
		"valid":       report.OK(),
		"rules":       report.Rules,
		"failedRules": report.Failed,
		"strength":    report.Strength,
	})
}
