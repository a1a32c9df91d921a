package authz

import (
	"fmt"

	"github.com/carebridge/carebridge/internal/platform/auth"
)

// Action is the operation category a call performs on a resource type.
type Action string

const (
	ActionRead   Action = "read"
	ActionSearch Action = "search"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// AccessRule maps one (resourceType, action) pair to the roles allowed to
// perform it, plus the ownership and delegation exceptions. Destructive rules
// are reserved to the admin role no matter what the other fields say.
type AccessRule struct {
	ResourceType      string
	Action            Action
	AllowedRoles      []auth.Role
	OwnerMayAccess    bool
	GuardianMayAccess bool
	Destructive       bool
}

func (r AccessRule) allowsRole(role auth.Role) bool {
	for _, allowed := range r.AllowedRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

type ruleKey struct {
	resourceType string
	action       Action
}

// Ruleset is the immutable access-rule table, loaded once at startup. Lookups
// after construction are read-only and safe for concurrent use.
type Ruleset struct {
	rules map[ruleKey]AccessRule
}

// NewRuleset builds a ruleset, rejecting duplicate (resourceType, action)
// entries so a misconfigured table fails at startup rather than at decision
// time.
func NewRuleset(rules []AccessRule) (*Ruleset, error) {
	m := make(map[ruleKey]AccessRule, len(rules))
	for _, r := range rules {
		if r.ResourceType == "" || r.Action == "" {
			return nil, fmt.Errorf("ruleset: rule missing resource type or action")
		}
		k := ruleKey{r.ResourceType, r.Action}
		if _, dup := m[k]; dup {
			return nil, fmt.Errorf("ruleset: duplicate rule for %s/%s", r.ResourceType, r.Action)
		}
		m[k] = r
	}
	return &Ruleset{rules: m}, nil
}

// Lookup returns the rule for the pair, or false when no rule exists. Absence
// of a rule is a deny.
func (rs *Ruleset) Lookup(resourceType string, action Action) (AccessRule, bool) {
	r, ok := rs.rules[ruleKey{resourceType, action}]
	return r, ok
}

// DefaultRules returns the access-rule table for the built-in resource types.
//
// Clients may read and update their own records but never delete them;
// guardians mirror client access for their wards. Audit entries are admin-only
// and have no ownership exception: a client cannot browse the raw trail of
// accesses to its data through this surface.
func DefaultRules() []AccessRule {
	clinical := []auth.Role{auth.RoleAdmin, auth.RoleProvider, auth.RoleNurse}
	frontOffice := []auth.Role{auth.RoleAdmin, auth.RoleProvider, auth.RoleNurse, auth.RoleFrontDesk}

	return []AccessRule{
		{ResourceType: "Client", Action: ActionRead, AllowedRoles: frontOffice, OwnerMayAccess: true, GuardianMayAccess: true},
		{ResourceType: "Client", Action: ActionSearch, AllowedRoles: frontOffice},
		{ResourceType: "Client", Action: ActionCreate, AllowedRoles: frontOffice},
		{ResourceType: "Client", Action: ActionUpdate, AllowedRoles: frontOffice, OwnerMayAccess: true, GuardianMayAccess: true},
		{ResourceType: "Client", Action: ActionDelete, AllowedRoles: []auth.Role{auth.RoleAdmin}, Destructive: true},

		{ResourceType: "ClinicalRecord", Action: ActionRead, AllowedRoles: clinical, OwnerMayAccess: true, GuardianMayAccess: true},
		{ResourceType: "ClinicalRecord", Action: ActionSearch, AllowedRoles: clinical},
		{ResourceType: "ClinicalRecord", Action: ActionCreate, AllowedRoles: clinical},
		{ResourceType: "ClinicalRecord", Action: ActionUpdate, AllowedRoles: clinical},
		{ResourceType: "ClinicalRecord", Action: ActionDelete, AllowedRoles: []auth.Role{auth.RoleAdmin}, Destructive: true},

		{ResourceType: "AuditEntry", Action: ActionRead, AllowedRoles: []auth.Role{auth.RoleAdmin}},
		{ResourceType: "AuditEntry", Action: ActionSearch, AllowedRoles: []auth.Role{auth.RoleAdmin}},
	}
}
