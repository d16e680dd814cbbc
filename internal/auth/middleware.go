package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/medcare/scheduling-engine/internal/scheduling"
)

type contextKey string

const actorKey contextKey = "actor"

func WithActor(ctx context.Context, actor scheduling.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the authenticated actor stored by Middleware.
func ActorFrom(ctx context.Context) (scheduling.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(scheduling.Actor)
	return actor, ok
}

// Middleware rejects requests without a valid bearer token. onError writes the
// response so callers keep their own error envelope.
func Middleware(tokens *Tokens, onError func(w http.ResponseWriter, status int, code, msg string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				onError(w, http.StatusUnauthorized, "missing_token", "missing authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				onError(w, http.StatusUnauthorized, "invalid_token", "invalid authorization format")
				return
			}

			actor, err := tokens.Parse(parts[1])
			if err != nil {
				onError(w, http.StatusUnauthorized, "invalid_token", err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
