package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/carebridge/carebridge/internal/platform/errs"
)

// Resolver turns an opaque bearer credential into a verified Actor. It has no
// side effects beyond the verification call; everything the rest of the call
// needs about the caller is on the returned Actor.
type Resolver struct {
	verifier CredentialVerifier
}

// NewResolver creates a Resolver over the given verifier capability.
func NewResolver(verifier CredentialVerifier) *Resolver {
	return &Resolver{verifier: verifier}
}

// Resolve verifies the Authorization header value and builds the actor
// context. Every failure mode — absent, malformed, expired, or claim-deficient
// credentials — returns an authentication error.
func (r *Resolver) Resolve(ctx context.Context, authorization string) (*Actor, error) {
	if authorization == "" {
		return nil, errs.Authentication(fmt.Errorf("missing authorization header"))
	}

	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, errs.Authentication(fmt.Errorf("authorization header is not a bearer credential"))
	}

	claims, err := r.verifier.Verify(ctx, parts[1])
	if err != nil {
		return nil, errs.Authentication(err)
	}

	if claims.Subject == "" {
		return nil, errs.Authentication(fmt.Errorf("credential is missing the subject claim"))
	}
	if claims.Role == "" {
		return nil, errs.Authentication(fmt.Errorf("credential is missing the role claim"))
	}
	if claims.Category == "" {
		return nil, errs.Authentication(fmt.Errorf("credential is missing the actor_category claim"))
	}

	actor := &Actor{
		ID:       claims.Subject,
		Email:    claims.Email,
		Role:     Role(claims.Role),
		Category: Category(claims.Category),
		WardIDs:  claims.Wards,
	}
	if err := actor.Validate(); err != nil {
		return nil, errs.Authentication(err)
	}
	return actor, nil
}
