package httpserver

import (
	"context"
	"net/http"
	"strings"

	"farmchat/internal/domain"
	"farmchat/internal/identity"
)

type contextKey string

const principalContextKey contextKey = "principal"

// WithPrincipal returns a new context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// CurrentPrincipal extracts the authenticated principal from the request, if
// any.
func CurrentPrincipal(r *http.Request) *identity.Principal {
	if v := r.Context().Value(principalContextKey); v != nil {
		if p, ok := v.(*identity.Principal); ok {
			return p
		}
	}
	return nil
}

// AuthMiddleware validates the Bearer token and attaches the principal to the
// request context.
func AuthMiddleware(provider *identity.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeError(w, domain.ErrUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			principal, err := provider.FromToken(tokenStr)
			if err != nil {
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
