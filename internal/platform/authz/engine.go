package authz

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/errs"
)

// Engine makes access decisions from the rule table plus ownership and
// delegation lookups. Decisions are strictly allow-or-deny; every denial is
// the same generic authorization error so a rejected caller learns nothing
// about whether the resource exists.
type Engine struct {
	rules       *Ruleset
	ownership   OwnershipSource
	delegations DelegationSource
}

// NewEngine creates a decision engine. The ownership and delegation sources
// may be nil, in which case the corresponding exceptions never fire.
func NewEngine(rules *Ruleset, ownership OwnershipSource, delegations DelegationSource) *Engine {
	return &Engine{rules: rules, ownership: ownership, delegations: delegations}
}

// Authorize decides whether the actor may perform the action on the resource.
// It returns nil on allow and an authorization error on deny.
//
// The decision runs in a fixed order: rule lookup, the destructive gate, the
// role check, then the ownership and delegation exceptions. Ownership is only
// consulted once the role check has failed and the rule opts in, so staff
// requests never trigger an owner lookup.
func (e *Engine) Authorize(ctx context.Context, actor *auth.Actor, action Action, ref Ref) error {
	if actor == nil {
		return errs.Authorization()
	}

	rule, ok := e.rules.Lookup(ref.ResourceType, action)
	if !ok {
		log.Debug().
			Str("resource_type", ref.ResourceType).
			Str("action", string(action)).
			Msg("no access rule for resource/action, denying")
		return errs.Authorization()
	}

	// Destructive actions are admin-only regardless of the rule's role list
	// or exceptions.
	if rule.Destructive && actor.Role != auth.RoleAdmin {
		return errs.Authorization()
	}

	if rule.allowsRole(actor.Role) {
		return nil
	}

	// Role check failed. Collection operations carry no resource identity, so
	// the exceptions below cannot apply.
	if ref.ResourceID == "" {
		return errs.Authorization()
	}

	if rule.OwnerMayAccess && actor.Category == auth.CategoryClient {
		owner, err := e.ownerOf(ctx, ref)
		if err != nil {
			return err
		}
		if owner == actor.ID {
			return nil
		}
	}

	if rule.GuardianMayAccess && actor.Category == auth.CategoryGuardian {
		owner, err := e.ownerOf(ctx, ref)
		if err != nil {
			return err
		}
		delegated, err := e.isGuardianOf(ctx, actor, owner)
		if err != nil {
			return err
		}
		if delegated {
			return nil
		}
	}

	return errs.Authorization()
}

// ownerOf resolves the owning client. A missing resource denies rather than
// reporting not-found: existence is not disclosed to unauthorized callers.
func (e *Engine) ownerOf(ctx context.Context, ref Ref) (string, error) {
	if e.ownership == nil {
		return "", errs.Authorization()
	}
	owner, err := e.ownership.OwnerID(ctx, ref)
	if errors.Is(err, ErrNoOwner) {
		return "", errs.Authorization()
	}
	if err != nil {
		return "", errs.Internal(err)
	}
	return owner, nil
}

func (e *Engine) isGuardianOf(ctx context.Context, actor *auth.Actor, clientID string) (bool, error) {
	for _, ward := range actor.WardIDs {
		if ward == clientID {
			return true, nil
		}
	}
	if e.delegations == nil {
		return false, nil
	}
	delegated, err := e.delegations.IsGuardianOf(ctx, actor.ID, clientID)
	if err != nil {
		return false, errs.Internal(err)
	}
	return delegated, nil
}
