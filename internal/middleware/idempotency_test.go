package middleware_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/signaldesk/signaldesk/internal/middleware"
)

// memoryKV is an in-memory stand-in for a JetStream KV bucket.
type memoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string][]byte)}
}

func (m *memoryKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &memoryEntry{key: key, value: v}, nil
}

func (m *memoryKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return 1, nil
}

func (m *memoryKV) put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *memoryKV) stored(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// Remaining jetstream.KeyValue methods are unused by the middleware.
func (m *memoryKV) Bucket() string { return "idempotency" }
func (m *memoryKV) Create(_ context.Context, _ string, _ []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	return 0, nil
}
func (m *memoryKV) Update(_ context.Context, _ string, _ []byte, _ uint64) (uint64, error) {
	return 0, nil
}
func (m *memoryKV) PutString(_ context.Context, _, _ string) (uint64, error)             { return 0, nil }
func (m *memoryKV) Delete(_ context.Context, _ string, _ ...jetstream.KVDeleteOpt) error { return nil }
func (m *memoryKV) Purge(_ context.Context, _ string, _ ...jetstream.KVDeleteOpt) error  { return nil }
func (m *memoryKV) GetRevision(_ context.Context, _ string, _ uint64) (jetstream.KeyValueEntry, error) {
	return nil, nil
}
func (m *memoryKV) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) { return nil, nil }
func (m *memoryKV) ListKeys(_ context.Context, _ ...jetstream.WatchOpt) (jetstream.KeyLister, error) {
	return nil, nil
}
func (m *memoryKV) ListKeysFiltered(_ context.Context, _ ...string) (jetstream.KeyLister, error) {
	return nil, nil
}
func (m *memoryKV) History(_ context.Context, _ string, _ ...jetstream.WatchOpt) ([]jetstream.KeyValueEntry, error) {
	return nil, nil
}
func (m *memoryKV) Watch(_ context.Context, _ string, _ ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	return nil, nil
}
func (m *memoryKV) WatchAll(_ context.Context, _ ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	return nil, nil
}
func (m *memoryKV) WatchFiltered(_ context.Context, _ []string, _ ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	return nil, nil
}
func (m *memoryKV) Status(_ context.Context) (jetstream.KeyValueStatus, error)      { return nil, nil }
func (m *memoryKV) PurgeDeletes(_ context.Context, _ ...jetstream.KVPurgeOpt) error { return nil }

type memoryEntry struct {
	key   string
	value []byte
}

func (e *memoryEntry) Bucket() string                  { return "idempotency" }
func (e *memoryEntry) Key() string                     { return e.key }
func (e *memoryEntry) Value() []byte                   { return e.value }
func (e *memoryEntry) Revision() uint64                { return 1 }
func (e *memoryEntry) Created() time.Time              { return time.Time{} }
func (e *memoryEntry) Delta() uint64                   { return 0 }
func (e *memoryEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

// countingHandler fakes a task-enqueue endpoint whose side effect must not
// run twice for the same key.
func countingHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"id":"task-%d"}`, *calls)
	})
}

func TestIdempotencyMissingHeaderPassesThrough(t *testing.T) {
	calls := 0
	kv := newMemoryKV()
	handler := middleware.Idempotency(kv)(countingHandler(&calls))

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", http.NoBody)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("without a key each request must reach the handler, got %d calls", calls)
	}
}

func TestIdempotencyStoresFirstResponse(t *testing.T) {
	calls := 0
	kv := newMemoryKV()
	handler := middleware.Idempotency(kv)(countingHandler(&calls))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", http.NoBody)
	req.Header.Set("Idempotency-Key", "enqueue-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	raw, ok := kv.stored("enqueue-abc")
	if !ok {
		t.Fatal("expected response cached under enqueue-abc")
	}
	var cached struct {
		StatusCode int    `json:"status_code"`
		Body       []byte `json:"body"`
	}
	if err := json.Unmarshal(raw, &cached); err != nil {
		t.Fatalf("cached entry not JSON: %v", err)
	}
	if cached.StatusCode != http.StatusCreated {
		t.Fatalf("cached status = %d, want 201", cached.StatusCode)
	}
	if string(cached.Body) != `{"id":"task-1"}` {
		t.Fatalf("cached body = %s", cached.Body)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	calls := 0
	kv := newMemoryKV()
	handler := middleware.Idempotency(kv)(countingHandler(&calls))

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", http.NoBody)
		req.Header.Set("Idempotency-Key", "enqueue-retry")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
		if got := rec.Body.String(); got != `{"id":"task-1"}` {
			t.Fatalf("expected first response replayed, got %s", got)
		}
	}
	if calls != 1 {
		t.Fatalf("handler must run once for a repeated key, got %d", calls)
	}
}

func TestIdempotencySkipsReads(t *testing.T) {
	calls := 0
	kv := newMemoryKV()
	handler := middleware.Idempotency(kv)(countingHandler(&calls))

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", http.NoBody)
		req.Header.Set("Idempotency-Key", "read-key")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls != 2 {
		t.Fatalf("GET must bypass deduplication, got %d calls", calls)
	}
	if _, ok := kv.stored("read-key"); ok {
		t.Fatal("GET responses must not be cached")
	}
}

func TestIdempotencyDistinctKeys(t *testing.T) {
	calls := 0
	kv := newMemoryKV()
	handler := middleware.Idempotency(kv)(countingHandler(&calls))

	for _, key := range []string{"key-a", "key-b"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", http.NoBody)
		req.Header.Set("Idempotency-Key", key)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls != 2 {
		t.Fatalf("distinct keys must each reach the handler, got %d calls", calls)
	}
}

func TestIdempotencyServerErrorsNotStored(t *testing.T) {
	calls := 0
	kv := newMemoryKV()
	failing := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	handler := middleware.Idempotency(kv)(failing)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", http.NoBody)
		req.Header.Set("Idempotency-Key", "flaky")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls != 2 {
		t.Fatalf("a 500 must not be replayed, got %d calls", calls)
	}
	if _, ok := kv.stored("flaky"); ok {
		t.Fatal("server errors must not be cached")
	}
}

func TestIdempotencyCorruptEntryFallsThrough(t *testing.T) {
	calls := 0
	kv := newMemoryKV()
	kv.put("mangled", []byte("not json"))
	handler := middleware.Idempotency(kv)(countingHandler(&calls))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", http.NoBody)
	req.Header.Set("Idempotency-Key", "mangled")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if calls != 1 {
		t.Fatalf("corrupt cache entry must fall through to the handler, got %d calls", calls)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}
