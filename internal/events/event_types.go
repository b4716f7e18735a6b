package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventOtpIssued       EventType = "otp_issued"
	EventPasswordChanged EventType = "password_changed"
	EventUserCreated     EventType = "user_created"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OtpIssuedPayload carries a freshly issued password-reset code for out-of-band delivery.
type OtpIssuedPayload struct {
	Identifier string    `json:"identifier"`
	Email      string    `json:"email"`
	Code       string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PasswordChangedPayload payload.
type PasswordChangedPayload struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// UserCreatedPayload payload.
type UserCreatedPayload struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}
