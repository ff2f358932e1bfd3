// Package ristretto provides the in-process level of the reasoning
// response cache, backed by dgraph-io/ristretto. Entries are costed by
// value size so one oversized response cannot crowd out the rest.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is a size-bounded in-process byte cache.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache holding at most maxBytes of values. Reasoning
// responses run a few KB each, so counters are sized for maxBytes/1KB
// distinct keys with the usual 10x headroom.
func New(maxBytes int64) (*Cache, error) {
	counters := maxBytes / 1024 * 10
	if counters < 1024 {
		counters = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get returns the cached value for key, if admitted and not expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key for ttl. Admission is best effort;
// ristretto may drop entries under pressure, which a cache caller
// already tolerates.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied. Only tests need it;
// production callers treat Set as fire-and-forget.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
