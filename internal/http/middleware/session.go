package middleware

import (
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-booking/internal/session"
)

// TokenHeader is the header the caller's session token travels in.
const TokenHeader = "token"

// RequireSession moves the session token header into the request context and
// rejects requests without one. The token is passed through untouched.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(TokenHeader))
		if token == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing session token"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithToken(r.Context(), token)))
	})
}
