// Package reasoner defines the port to the external reasoning service.
// Everything judgment-shaped (extraction, clustering, scoring, writing)
// lives behind this interface; this subsystem only moves its inputs and
// outputs around.
package reasoner

import (
	"context"
	"encoding/json"
)

// Reasoner is an opaque external capability: a structured prompt payload
// in, a task-type-specific structured result out. Latency is unbounded
// from this subsystem's point of view and no side effects beyond the
// return value are visible. Callers budget every invocation.
type Reasoner interface {
	Reason(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error)
}

// CacheChecker is an optional Reasoner capability: it reports a stored
// result for the exact (task type, payload) pair without making a live
// call. Callers consult it before charging a task's call budget, so an
// answer that is already known costs nothing.
type CacheChecker interface {
	Cached(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, bool)
}

// Func adapts a plain function to the Reasoner interface, mostly for
// tests and fixtures.
type Func func(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error)

// Reason implements Reasoner.
func (f Func) Reason(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, taskType, payload)
}
