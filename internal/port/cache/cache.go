// Package cache defines the port interface for caching. The main
// consumer is the reasoner adapter, which reuses identical reasoning
// responses instead of paying for them twice.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key-value cache with per-entry TTLs.
// Implementations may evict earlier than the TTL, so callers treat every
// lookup as advisory.
type Cache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for at most ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key if present. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
