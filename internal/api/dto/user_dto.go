package dto

import (
	"time"

	"github.com/spec-kit/echannelling-auth/internal/domain"
)

// CreateUserRequest payload for admin user creation.
type CreateUserRequest struct {
	Email       string  `json:"email" validate:"required,email,max=254"`
	DisplayName *string `json:"displayName" validate:"omitempty,min=1,max=100"`
	Password    string  `json:"password" validate:"required,max=72"`
	Role        string  `json:"role" validate:"required"`
}

// UpdateUserStatusRequest toggles activation.
type UpdateUserStatusRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

// AuditLogQuery pagination parameters.
type AuditLogQuery struct {
	Page  int `query:"page" validate:"omitempty,min=1"`
	Limit int `query:"limit" validate:"omitempty,min=1,max=100"`
}

// AuditLogResponse is one audit entry.
type AuditLogResponse struct {
	ID         string             `json:"id"`
	Action     domain.AuditAction `json:"action"`
	UserID     *string            `json:"userId"`
	Identifier string             `json:"identifier,omitempty"`
	Success    bool               `json:"success"`
	IPAddress  string             `json:"ipAddress,omitempty"`
	UserAgent  string             `json:"userAgent,omitempty"`
	Details    map[string]any     `json:"details,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// AuditLogPage is a page of audit entries.
type AuditLogPage struct {
	Items []AuditLogResponse `json:"items"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
	Total int                `json:"total"`
}

// NewAuditLogResponse converts an entry.
func NewAuditLogResponse(e domain.AuditEntry) AuditLogResponse {
	return AuditLogResponse{
		ID:         e.ID,
		Action:     e.Action,
		UserID:     e.UserID,
		Identifier: e.Identifier,
		Success:    e.Success,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Details:    e.Details,
		CreatedAt:  e.CreatedAt,
	}
}
