package dto

import (
	"time"

	"github.com/spec-kit/echannelling-auth/internal/domain"
)

// LoginRequest payload for login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	TwoFA    string `json:"twoFA" validate:"max=16"`
}

// RefreshRequest exchanges a refresh token for an access token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// LogoutRequest ends one session. An empty token is accepted.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ForgotPasswordRequest starts password recovery.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

// VerifyOtpRequest submits the emailed code.
type VerifyOtpRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Otp        string `json:"otp" validate:"required,numeric,max=10"`
}

// ResetPasswordRequest spends a reset token.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,max=72"`
}

// ChangePasswordRequest for authenticated users.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,max=72"`
	ConfirmPassword string `json:"confirmPassword"`
}

// EnableTwoFactorRequest confirms TOTP enrollment.
type EnableTwoFactorRequest struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

// PasswordStrengthRequest asks for a policy report.
type PasswordStrengthRequest struct {
	Password string `json:"password" validate:"required,max=128"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID               string      `json:"id"`
	Email            string      `json:"email"`
	DisplayName      *string     `json:"displayName,omitempty"`
	Name             string      `json:"name"`
	Role             domain.Role `json:"role"`
	IsActive         bool        `json:"isActive"`
	TwoFactorEnabled bool        `json:"twoFactorEnabled"`
	LastLoginAt      *time.Time  `json:"lastLoginAt"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// NewUserResponse strips secrets from u.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:               u.ID,
		Email:            u.Email,
		DisplayName:      u.DisplayName,
		Name:             u.Name(),
		Role:             u.Role,
		IsActive:         u.IsActive,
		TwoFactorEnabled: u.TOTPEnabled,
		LastLoginAt:      u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
	}
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	User                  UserResponse `json:"user"`
	AccessToken           string       `json:"accessToken"`
	AccessTokenExpiresAt  time.Time    `json:"accessTokenExpiresAt"`
	RefreshToken          string       `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time    `json:"refreshTokenExpiresAt"`
}

// RefreshResponse carries a new access token.
type RefreshResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// MessageResponse is a generic acknowledgement.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// VerifyOtpResponse carries the reset token.
type VerifyOtpResponse struct {
	Success    bool      `json:"success"`
	ResetToken string    `json:"resetToken"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Message    string    `json:"message"`
}

// TwoFactorSetupResponse carries the enrollment secret.
type TwoFactorSetupResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauthUrl"`
}
