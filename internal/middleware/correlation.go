// Package middleware holds the one piece of the teacher's Gin middleware
// stack that survives without a router: correlation-ID propagation,
// adapted from internal/v1/middleware/correlation.go to plain
// net/http.Handler since this core exposes no HTTP route tree (handler
// wiring is out of scope) — only the HLS/FLV byte-serving surfaces and the
// health/metrics endpoints the wiring entrypoint exposes directly.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/synctv-org/synctv-core/internal/logging"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID wraps next, assigning a correlation ID to every request
// (reusing one the caller supplied) and threading it onto the request
// context so internal/logging picks it up automatically.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set(HeaderXCorrelationID, correlationID)
		ctx := logging.WithCorrelationID(r.Context(), correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
