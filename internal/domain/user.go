package domain

import "time"

// Role enumerates the fixed set of platform roles.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleSupervisor Role = "SUPERVISOR"
	RoleAgent      Role = "AGENT"
	RoleCorporate  Role = "CORPORATE"
	RoleDoctor     Role = "DOCTOR"
	RoleHospital   Role = "HOSPITAL"
	RolePatient    Role = "PATIENT"
)

// Roles lists every valid role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleSupervisor, RoleAgent, RoleCorporate, RoleDoctor, RoleHospital, RolePatient}
}

// Valid reports whether r is one of the fixed roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleAgent, RoleCorporate, RoleDoctor, RoleHospital, RolePatient:
		return true
	}
	return false
}

// User is the identity record for anyone signing in to the back-office.
type User struct {
	ID           string
	Email        string
	DisplayName  *string
	PasswordHash string
	Role         Role
	IsActive     bool
	LastLoginAt  *time.Time
	TOTPSecret   []byte
	TOTPEnabled  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Name returns the display name or the email when none is set.
func (u *User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Email
}
