package httpapi

import (
	"context"
	"net/http"
	"time"

	"carelink/internal/session"
)

type contextKey struct{ name string }

var claimsKey = contextKey{name: "access-claims"}

// ClaimsFromContext extracts verified access claims placed by RequireAuth.
func ClaimsFromContext(ctx context.Context) (session.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(session.AccessClaims)
	return claims, ok
}

// Verifier validates a bearer access token against live session state.
type Verifier interface {
	VerifyAccess(ctx context.Context, token string, now time.Time) (session.AccessClaims, error)
}

// RequireAuth rejects requests without a valid bearer token and places the
// verified claims into the request context. Every verification failure maps
// to 401 with the same re-authenticate shape.
func RequireAuth(verifier Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		claims, err := verifier.VerifyAccess(r.Context(), token, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "please re-authenticate")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}
