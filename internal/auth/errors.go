package auth

import (
	"errors"
	"net/http"

	apperrors "github.com/spec-kit/echannelling-auth/pkg/util/errorutil"
)

// Business-rule failures surfaced by the authentication flows.
var (
	ErrInvalidCredentials         = errors.New("invalid credentials")
	ErrAccountDeactivated         = errors.New("account deactivated")
	ErrInvalid2FA                 = errors.New("invalid two-factor code")
	ErrInvalidToken               = errors.New("invalid token")
	ErrTokenExpired               = errors.New("token expired")
	ErrInvalidOtp                 = errors.New("invalid or expired otp")
	ErrInvalidOrExpiredResetToken = errors.New("invalid or expired reset token")
	ErrPasswordPolicyViolation    = errors.New("password does not meet policy")
	ErrPasswordMismatch           = errors.New("passwords do not match")
	ErrTwoFactorNotPending        = errors.New("two-factor setup not started")
	ErrTwoFactorAlreadyEnabled    = errors.New("two-factor already enabled")
)

func init() {
	apperrors.Register(ErrInvalidCredentials, apperrors.Mapping{Code: "INVALID_CREDENTIALS", Message: "invalid username or password", HTTPStatus: http.StatusUnauthorized})
	apperrors.Register(ErrAccountDeactivated, apperrors.Mapping{Code: "ACCOUNT_DEACTIVATED", Message: "account is deactivated", HTTPStatus: http.StatusForbidden})
	apperrors.Register(ErrInvalid2FA, apperrors.Mapping{Code: "INVALID_2FA", Message: "invalid two-factor code", HTTPStatus: http.StatusUnauthorized})
	apperrors.Register(ErrInvalidToken, apperrors.Mapping{Code: "INVALID_TOKEN", Message: "Invalid token", HTTPStatus: http.StatusUnauthorized})
	apperrors.Register(ErrTokenExpired, apperrors.Mapping{Code: "TOKEN_EXPIRED", Message: "token expired", HTTPStatus: http.StatusUnauthorized})
	apperrors.Register(ErrInvalidOtp, apperrors.Mapping{Code: "INVALID_OTP", Message: "invalid or expired code", HTTPStatus: http.StatusBadRequest})
	apperrors.Register(ErrInvalidOrExpiredResetToken, apperrors.Mapping{Code: "INVALID_OR_EXPIRED_RESET_TOKEN", Message: "invalid or expired reset token", HTTPStatus: http.StatusBadRequest})
	apperrors.Register(ErrPasswordPolicyViolation, apperrors.Mapping{Code: "PASSWORD_POLICY_VIOLATION", Message: "password does not meet requirements", HTTPStatus: http.StatusBadRequest})
	apperrors.Register(ErrPasswordMismatch, apperrors.Mapping{Code: "PASSWORD_MISMATCH", Message: "passwords do not match", HTTPStatus: http.StatusBadRequest})
	apperrors.Register(ErrTwoFactorNotPending, apperrors.Mapping{Code: "TWO_FACTOR_NOT_PENDING", Message: "two-factor setup has not been started", HTTPStatus: http.StatusBadRequest})
	apperrors.Register(ErrTwoFactorAlreadyEnabled, apperrors.Mapping{Code: "TWO_FACTOR_ALREADY_ENABLED", Message: "two-factor authentication is already enabled", HTTPStatus: http.StatusConflict})
}
