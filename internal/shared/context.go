package shared

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ActorHeader carries the authenticated user id set by the upstream auth proxy.
const ActorHeader = "X-User-ID"

type actorContextKey struct{}

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor uuid.UUID) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user, uuid.Nil when anonymous.
func ActorFromContext(ctx context.Context) uuid.UUID {
	actor, _ := ctx.Value(actorContextKey{}).(uuid.UUID)
	return actor
}

// ActorMiddleware copies a well-formed ActorHeader into the request context.
// Malformed values are ignored and the request proceeds anonymously.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(ActorHeader); raw != "" {
			if actor, err := uuid.Parse(raw); err == nil {
				r = r.WithContext(ContextWithActor(r.Context(), actor))
			}
		}
		next.ServeHTTP(w, r)
	})
}
