package auth

import (
	"fmt"
)

// Role is the privilege level carried by an actor's credential.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleProvider  Role = "provider"
	RoleNurse     Role = "nurse"
	RoleFrontDesk Role = "front_desk"
	RoleStaff     Role = "staff"
	RoleClient    Role = "client"
	RoleGuardian  Role = "guardian"
)

// Category is the structural kind of actor making the call. Access rules treat
// the three categories differently: staff access is role-driven, client access
// is ownership-driven, guardian access is delegation-driven.
type Category string

const (
	CategoryServiceProvider Category = "service_provider"
	CategoryClient          Category = "client"
	CategoryGuardian        Category = "guardian"
)

// Actor is the verified identity behind a call. It is resolved fresh per call
// from the bearer credential and never persisted.
type Actor struct {
	ID       string
	Email    string
	Role     Role
	Category Category

	// WardIDs lists the client IDs this actor is a delegated guardian for,
	// as asserted by the identity provider. The authorization engine may
	// consult a delegation source of record instead.
	WardIDs []string
}

// Validate checks that the role and category claims are mutually consistent.
// A credential asserting a client role under a staff category (or vice versa)
// is rejected before any authorization logic sees it.
func (a *Actor) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("actor: missing subject")
	}

	switch a.Role {
	case RoleClient:
		if a.Category != CategoryClient {
			return fmt.Errorf("actor: role %q requires category %q, got %q", a.Role, CategoryClient, a.Category)
		}
	case RoleGuardian:
		if a.Category != CategoryGuardian {
			return fmt.Errorf("actor: role %q requires category %q, got %q", a.Role, CategoryGuardian, a.Category)
		}
	case RoleAdmin, RoleProvider, RoleNurse, RoleFrontDesk, RoleStaff:
		if a.Category != CategoryServiceProvider {
			return fmt.Errorf("actor: role %q requires category %q, got %q", a.Role, CategoryServiceProvider, a.Category)
		}
	default:
		return fmt.Errorf("actor: unknown role %q", a.Role)
	}
	return nil
}

// IsStaff reports whether the actor belongs to the service-provider category.
func (a *Actor) IsStaff() bool {
	return a.Category == CategoryServiceProvider
}
