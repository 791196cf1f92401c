package domain

import dErrors "badal/pkg/domain-errors"

// Role is the caller role asserted by the identity service.
type Role string

const (
	RoleProvider   Role = "provider"
	RoleScholar    Role = "scholar"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	// RoleSystem is used by collaborator services (booking lifecycle, sweeps).
	RoleSystem Role = "system"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleProvider, RoleScholar, RoleAdmin, RoleSuperAdmin, RoleSystem:
		return true
	}
	return false
}

// ParseRole validates a role claim.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
	return r, nil
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   UserID
	Role Role
}

// Reviewer reports whether the actor may take scholar decisions.
func (a Actor) Reviewer() bool {
	return a.Role == RoleScholar || a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

// Is reports whether the actor holds any of roles.
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// ActsFor reports whether a provider actor is operating on its own record.
func (a Actor) ActsFor(provider ProviderID) bool {
	return a.Role == RoleProvider && a.ID.String() == provider.String()
}

// SystemActor is the actor used by background workers.
var SystemActor = Actor{Role: RoleSystem}
