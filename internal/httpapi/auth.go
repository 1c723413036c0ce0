package httpapi

import (
	"net/http"

	"github.com/jobagent/orchestrator/internal/crypto"
)

// RequireAPIKey compares the X-API-Key header against the configured key in
// constant time. Only the dispatcher's own API key is checked here; the SMS
// webhook has its own HMAC signature verification instead (see hitl).
func RequireAPIKey(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("X-API-Key")
			if got == "" || !crypto.ConstantTimeEquals(got, expected) {
				writeError(w, r, http.StatusForbidden, "forbidden", "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
