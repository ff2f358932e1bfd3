package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops the async handler on shutdown.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// queued pairs a record with the handler variant that accepted it, so
// records logged through WithAttrs/WithGroup derivatives keep their
// bound attributes across the queue hop.
type queued struct {
	rec  slog.Record
	sink slog.Handler
}

// AsyncHandler wraps an slog.Handler with a buffered queue and worker
// pool so hot paths (claim loops, task execution) never block on log
// I/O. A full queue drops records rather than blocking.
type AsyncHandler struct {
	sink    slog.Handler
	queue   chan queued
	wg      *sync.WaitGroup
	dropped *atomic.Int64
}

// NewAsyncHandler starts workers draining a queue of queueSize records.
func NewAsyncHandler(sink slog.Handler, queueSize, workers int) *AsyncHandler {
	h := &AsyncHandler{
		sink:    sink,
		queue:   make(chan queued, queueSize),
		wg:      &sync.WaitGroup{},
		dropped: &atomic.Int64{},
	}
	h.wg.Add(workers)
	for range workers {
		go h.drain()
	}
	return h
}

func (h *AsyncHandler) drain() {
	defer h.wg.Done()
	for q := range h.queue {
		_ = q.sink.Handle(context.Background(), q.rec)
	}
}

// Enabled delegates to the wrapped handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.sink.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.queue <- queued{rec: rec, sink: h.sink}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler that shares this one's queue and workers.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{sink: h.sink.WithAttrs(attrs), queue: h.queue, wg: h.wg, dropped: h.dropped}
}

// WithGroup derives a handler that shares this one's queue and workers.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{sink: h.sink.WithGroup(name), queue: h.queue, wg: h.wg, dropped: h.dropped}
}

// DroppedCount returns how many records were dropped on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops intake and blocks until the workers drain the queue. Only
// the root handler closes; derived handlers share its queue.
func (h *AsyncHandler) Close() {
	close(h.queue)
	h.wg.Wait()
}
