// Package upstream restricts trusted attribute headers to the fronting gateway.
package upstream

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"aegis/pkg/requestcontext"
)

// HeaderToken carries the shared secret between the gateway and this service.
const HeaderToken = "X-Upstream-Token"

// RequireToken rejects requests whose upstream token does not match expected.
// An empty expected token disables the check for deployments where the
// network already guarantees the caller.
func RequireToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderToken)
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "upstream token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"client_ip", requestcontext.ClientIP(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"upstream token required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
