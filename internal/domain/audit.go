package domain

import "time"

// AuditAction names a security-relevant event.
type AuditAction string

const (
	AuditLogin                  AuditAction = "LOGIN"
	AuditLoginFailed            AuditAction = "LOGIN_FAILED"
	AuditLogout                 AuditAction = "LOGOUT"
	AuditLogoutAll              AuditAction = "LOGOUT_ALL"
	AuditTokenRefresh           AuditAction = "TOKEN_REFRESH"
	AuditPasswordResetRequested AuditAction = "PASSWORD_RESET_REQUESTED"
	AuditOtpVerified            AuditAction = "OTP_VERIFIED"
	AuditOtpRejected            AuditAction = "OTP_REJECTED"
	AuditPasswordReset          AuditAction = "PASSWORD_RESET"
	AuditPasswordChanged        AuditAction = "PASSWORD_CHANGED"
	AuditTwoFactorSetup         AuditAction = "TWO_FACTOR_SETUP"
	AuditTwoFactorEnabled       AuditAction = "TWO_FACTOR_ENABLED"
	AuditUserCreated            AuditAction = "USER_CREATED"
	AuditUserStatusChanged      AuditAction = "USER_STATUS_CHANGED"
)

// AuditEntry records one security-relevant event.
type AuditEntry struct {
	ID         string
	Action     AuditAction
	UserID     *string
	Identifier string
	Success    bool
	IPAddress  string
	UserAgent  string
	Details    map[string]any
	CreatedAt  time.Time
}
