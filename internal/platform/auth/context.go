package auth

import (
	"context"
)

type contextKey string

const actorKey contextKey = "actor"

// ContextWithActor returns a child context carrying the resolved actor.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the resolved actor, or nil when the call has not
// passed authentication.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorKey).(*Actor)
	return actor
}
