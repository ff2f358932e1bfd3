// Package broadcast defines the port for pushing lifecycle events
// (task claims, negotiation rounds, flagged predictions) to connected
// dashboard clients.
package broadcast

import "context"

// Broadcaster fans one event out to every connected dashboard client.
// Delivery is fire-and-forget: implementations drop events for slow or
// gone clients rather than block the caller.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
