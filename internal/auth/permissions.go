package auth

import (
	"github.com/spec-kit/echannelling-auth/internal/domain"
)

// Resources guarded by the back-office.
const (
	ResourceHospital    = "hospital"
	ResourceDoctor      = "doctor"
	ResourceAgent       = "agent"
	ResourceBranch      = "branch"
	ResourceInvoice     = "invoice"
	ResourceUser        = "user"
	ResourceAuditLog    = "audit_log"
	ResourceAppointment = "appointment"
	ResourceReport      = "report"
	ResourceDashboard   = "dashboard"
)

// Actions on resources.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionExport = "export"
)

// Conditions narrowing a grant.
const (
	ConditionOwn      = "own"
	ConditionAssigned = "assigned"
	ConditionBranch   = "branch"
)

var allConditions = []string{ConditionOwn, ConditionAssigned, ConditionBranch}

// Permission is a (resource, action) pair, optionally narrowed by conditions.
type Permission struct {
	Resource   string   `json:"resource"`
	Action     string   `json:"action"`
	Conditions []string `json:"conditions,omitempty"`
}

// Perm is shorthand for building a Permission.
func Perm(resource, action string, conditions ...string) Permission {
	return Permission{Resource: resource, Action: action, Conditions: conditions}
}

// matches reports whether the grant g satisfies the request p: same resource and
// action, and every requested condition present in the grant.
func (g Permission) matches(p Permission) bool {
	if g.Resource != p.Resource || g.Action != p.Action {
		return false
	}
	for _, want := range p.Conditions {
		found := false
		for _, have := range g.Conditions {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// PermissionTable maps roles to their grants. It is immutable once built.
type PermissionTable struct {
	grants map[domain.Role][]Permission
}

// NewPermissionTable copies grants into a new table.
func NewPermissionTable(grants map[domain.Role][]Permission) *PermissionTable {
	cp := make(map[domain.Role][]Permission, len(grants))
	for role, perms := range grants {
		list := make([]Permission, len(perms))
		for i, p := range perms {
			list[i] = Permission{Resource: p.Resource, Action: p.Action, Conditions: append([]string(nil), p.Conditions...)}
		}
		cp[role] = list
	}
	return &PermissionTable{grants: cp}
}

// HasPermission reports whether role is granted p. Unknown roles are granted nothing.
func (t *PermissionTable) HasPermission(role domain.Role, p Permission) bool {
	if t == nil {
		return false
	}
	for _, g := range t.grants[role] {
		if g.matches(p) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether role holds at least one of perms.
func (t *PermissionTable) HasAnyPermission(role domain.Role, perms []Permission) bool {
	for _, p := range perms {
		if t.HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether role holds every one of perms.
func (t *PermissionTable) HasAllPermissions(role domain.Role, perms []Permission) bool {
	for _, p := range perms {
		if !t.HasPermission(role, p) {
			return false
		}
	}
	return true
}

// Grants returns a copy of the permissions held by role.
func (t *PermissionTable) Grants(role domain.Role) []Permission {
	if t == nil {
		return nil
	}
	out := make([]Permission, len(t.grants[role]))
	copy(out, t.grants[role])
	return out
}

var catalog = map[string][]string{
	ResourceHospital:    {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceDoctor:      {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceAgent:       {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceBranch:      {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceInvoice:     {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExport},
	ResourceUser:        {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceAuditLog:    {ActionRead, ActionExport},
	ResourceAppointment: {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceReport:      {ActionRead, ActionExport},
	ResourceDashboard:   {ActionRead},
}

// AllPermissions returns every defined permission with the full condition set.
func AllPermissions() []Permission {
	var out []Permission
	for _, resource := range []string{
		ResourceHospital, ResourceDoctor, ResourceAgent, ResourceBranch, ResourceInvoice,
		ResourceUser, ResourceAuditLog, ResourceAppointment, ResourceReport, ResourceDashboard,
	} {
		for _, action := range catalog[resource] {
			out = append(out, Perm(resource, action, allConditions...))
		}
	}
	return out
}

func crud(resource string, conditions ...string) []Permission {
	return []Permission{
		Perm(resource, ActionCreate, conditions...),
		Perm(resource, ActionRead, conditions...),
		Perm(resource, ActionUpdate, conditions...),
		Perm(resource, ActionDelete, conditions...),
	}
}

func join(groups ...[]Permission) []Permission {
	var out []Permission
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultPermissionTable returns the platform's role grants.
func DefaultPermissionTable() *PermissionTable {
	return NewPermissionTable(map[domain.Role][]Permission{
		domain.RoleAdmin: AllPermissions(),
		domain.RoleSupervisor: join(
			[]Permission{
				Perm(ResourceHospital, ActionRead),
				Perm(ResourceHospital, ActionUpdate),
				Perm(ResourceDoctor, ActionRead),
				Perm(ResourceDoctor, ActionUpdate),
				Perm(ResourceUser, ActionRead),
				Perm(ResourceUser, ActionUpdate),
				Perm(ResourceInvoice, ActionRead),
				Perm(ResourceInvoice, ActionUpdate),
				Perm(ResourceInvoice, ActionExport),
				Perm(ResourceAuditLog, ActionRead),
				Perm(ResourceReport, ActionRead),
				Perm(ResourceReport, ActionExport),
				Perm(ResourceDashboard, ActionRead),
			},
			crud(ResourceAgent),
			crud(ResourceBranch),
			crud(ResourceAppointment),
		),
		domain.RoleAgent: {
			Perm(ResourceHospital, ActionRead),
			Perm(ResourceDoctor, ActionRead),
			Perm(ResourceBranch, ActionRead, ConditionOwn),
			Perm(ResourceAppointment, ActionCreate),
			Perm(ResourceAppointment, ActionRead, ConditionOwn, ConditionBranch),
			Perm(ResourceAppointment, ActionUpdate, ConditionOwn),
			Perm(ResourceInvoice, ActionRead, ConditionOwn),
			Perm(ResourceReport, ActionRead, ConditionOwn),
			Perm(ResourceDashboard, ActionRead),
		},
		domain.RoleCorporate: {
			Perm(ResourceHospital, ActionRead),
			Perm(ResourceDoctor, ActionRead),
			Perm(ResourceAppointment, ActionCreate),
			Perm(ResourceAppointment, ActionRead, ConditionOwn),
			Perm(ResourceInvoice, ActionRead, ConditionOwn),
			Perm(ResourceInvoice, ActionExport, ConditionOwn),
			Perm(ResourceDashboard, ActionRead),
		},
		domain.RoleDoctor: {
			Perm(ResourceHospital, ActionRead),
			Perm(ResourceDoctor, ActionRead),
			Perm(ResourceDoctor, ActionUpdate, ConditionOwn),
			Perm(ResourceAppointment, ActionRead, ConditionAssigned),
			Perm(ResourceAppointment, ActionUpdate, ConditionAssigned),
			Perm(ResourceDashboard, ActionRead),
		},
		domain.RoleHospital: join(
			[]Permission{
				Perm(ResourceHospital, ActionRead),
				Perm(ResourceHospital, ActionUpdate, ConditionOwn),
				Perm(ResourceAppointment, ActionRead, ConditionBranch),
				Perm(ResourceAppointment, ActionUpdate, ConditionBranch),
				Perm(ResourceInvoice, ActionRead, ConditionOwn),
				Perm(ResourceReport, ActionRead, ConditionOwn),
				Perm(ResourceDashboard, ActionRead),
			},
			crud(ResourceDoctor, ConditionBranch),
		),
		domain.RolePatient: {
			Perm(ResourceHospital, ActionRead),
			Perm(ResourceDoctor, ActionRead),
			Perm(ResourceAppointment, ActionCreate),
			Perm(ResourceAppointment, ActionRead, ConditionOwn),
			Perm(ResourceAppointment, ActionDelete, ConditionOwn),
			Perm(ResourceInvoice, ActionRead, ConditionOwn),
		},
	})
}
