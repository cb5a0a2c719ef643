package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Authentication lives at the edge proxy; it forwards the verified identity
// in these headers. Handlers treat them as already-trusted input.
const (
	actorIDHeader   = "X-Actor-Id"
	actorRoleHeader = "X-Actor-Role"
)

type contextKey string

const (
	ctxActorID   contextKey = "actor_id"
	ctxActorRole contextKey = "actor_role"
)

// Actor copies the proxy-verified identity headers into the request context.
func Actor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw := r.Header.Get(actorIDHeader); raw != "" {
				if id, err := uuid.Parse(raw); err == nil {
					ctx = context.WithValue(ctx, ctxActorID, id)
				}
			}
			if role := r.Header.Get(actorRoleHeader); role != "" {
				ctx = context.WithValue(ctx, ctxActorRole, role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ActorIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxActorID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func ActorRoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActorRole).(string); ok {
		return v
	}
	return ""
}
