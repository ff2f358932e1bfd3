// Package middleware provides HTTP middleware for signaldesk.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/signaldesk/signaldesk/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID tags every request with an ID for log correlation. An inbound
// X-Request-ID (scrapers and workers forward theirs) is honored; otherwise
// a fresh UUID is minted. The ID lands in the context and on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
