package context

import (
	"context"
)

const contextKeyActor = contextKey("actor")

// ActorFromContext extracts the identity that mutations in this request are
// attributed to.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(contextKeyActor).(string)

	return actor, ok && actor != ""
}

// WithActor returns a context attributing subsequent mutations to actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, contextKeyActor, actor)
}
