package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go/jetstream"
)

const idempotencyHeader = "Idempotency-Key"

// Replayed bodies are capped so a runaway response cannot bloat the KV
// bucket. Coordination payloads are far below this.
const maxReplayBody = 1 << 20

// storedResponse is the replay record kept in the KV bucket. The bucket's
// TTL bounds how long a key dedupes.
type storedResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency deduplicates mutating requests that carry an
// Idempotency-Key header. The first response under a key is stored in the
// JetStream KV bucket; repeats get it replayed without reaching the
// handler. Server errors are never stored, so a retry after a transient
// failure runs for real.
func Idempotency(kv jetstream.KeyValue) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if key == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if entry, err := kv.Get(r.Context(), key); err == nil {
				if replay(w, entry.Value()) {
					return
				}
				slog.Warn("idempotency: corrupt replay record", "key", key)
			}

			capture := &replayCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= http.StatusInternalServerError {
				return
			}
			if capture.body.Len() > maxReplayBody {
				return
			}
			record, err := json.Marshal(storedResponse{
				StatusCode: capture.statusCode,
				Headers:    w.Header().Clone(),
				Body:       capture.body.Bytes(),
			})
			if err != nil {
				return
			}
			if _, err := kv.Put(r.Context(), key, record); err != nil {
				slog.Warn("idempotency: store failed", "key", key, "error", err)
			}
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// replay writes a stored response back out. Returns false when the
// record does not decode, in which case the caller falls through to the
// handler.
func replay(w http.ResponseWriter, raw []byte) bool {
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		return false
	}
	for name, values := range stored.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(stored.StatusCode)
	_, _ = w.Write(stored.Body)
	return true
}

// replayCapture tees the response so it can be stored after the handler
// ran.
type replayCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (c *replayCapture) WriteHeader(code int) {
	c.statusCode = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *replayCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
