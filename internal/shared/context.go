package shared

import "context"

type actorContextKey struct{}

// Actor identifies the operator performing a request. The service never
// authenticates beyond token verification; it only stamps attribution.
type Actor struct {
	ID string
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
