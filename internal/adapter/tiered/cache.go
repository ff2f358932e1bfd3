// Package tiered layers the in-process reasoning cache over the shared
// one. Lookups try local memory first and fall back to the fleet-wide
// bucket; hits there are copied back locally so repeat lookups stay
// cheap.
package tiered

import (
	"context"
	"errors"
	"time"

	"github.com/signaldesk/signaldesk/internal/port/cache"
)

// Cache combines a local and a shared cache level.
type Cache struct {
	local       cache.Cache
	shared      cache.Cache
	backfillTTL time.Duration
}

// New builds a tiered cache. backfillTTL bounds how long a value copied
// down from the shared level may outlive its bucket entry locally.
func New(local, shared cache.Cache, backfillTTL time.Duration) *Cache {
	return &Cache{local: local, shared: shared, backfillTTL: backfillTTL}
}

// Get checks the local level, then the shared one. A shared hit is
// copied into the local level before returning.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.shared.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	_ = c.local.Set(ctx, key, val, c.backfillTTL)
	return val, true, nil
}

// Set writes through both levels, shared first so other replicas can
// see the value even if the local write is dropped.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, key, value, ttl)
}

// Delete removes the key from both levels regardless of individual
// failures.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return errors.Join(
		c.local.Delete(ctx, key),
		c.shared.Delete(ctx, key),
	)
}
