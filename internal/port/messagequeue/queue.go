// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
// The queue is a latency optimization only: workers wake early on
// publishes but correctness always rests on the durable store, so every
// publish is best-effort.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by signaldesk.
const (
	SubjectTaskEnqueued = "tasks.enqueued" // tasks.enqueued.{role} — wakes idle workers for that role
	SubjectTaskResult   = "tasks.result"   // completion/failure envelopes from workers

	SubjectNegotiationOpened = "negotiations.opened"
	SubjectNegotiationClosed = "negotiations.closed"

	SubjectPredictionFlagged = "predictions.flagged" // staleness sweep findings

	SubjectDigestPublished = "digest.published"
)

// TaskEnqueuedSubject returns the role-scoped wakeup subject.
func TaskEnqueuedSubject(role string) string {
	return SubjectTaskEnqueued + "." + role
}
