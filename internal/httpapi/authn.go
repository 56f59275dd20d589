package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"pagehall.org/internal/audit"
	"pagehall.org/internal/auth"
	"pagehall.org/internal/policy"
)

// requireAuth validates the bearer token and stores its claims in the
// request context. Missing or invalid tokens are rejected with 401 before
// the handler runs.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated")
			return
		}
		claims, err := a.auth.Validate(token)
		if err != nil {
			msg := "unauthenticated"
			if errors.Is(err, auth.ErrExpired) {
				msg = "token expired"
			}
			writeError(w, r, http.StatusUnauthorized, msg)
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = audit.WithActor(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePolicy authenticates the caller and then demands the exact claim
// of p. A caller without it gets an opaque 403.
func (a *API) requirePolicy(p policy.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := auth.ClaimsFromContext(r.Context())
			if err := policy.Authorize(claims, p); err != nil {
				if errors.Is(err, policy.ErrUnauthenticated) {
					writeError(w, r, http.StatusUnauthorized, "unauthenticated")
					return
				}
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// bearerToken accepts only the Authorization header for API calls; the
// access_token query form is reserved for real-time transports.
func bearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
