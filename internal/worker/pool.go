// Package worker runs the in-process agent fleet: per-role loops that
// claim tasks from the durable queue, execute them through the reasoner
// under budget ceilings, and write results back. Workers coordinate
// only through the store; NATS wakeups merely shorten the idle wait.
package worker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent reasoning calls using a weighted semaphore.
// All reasoner calls across every worker in the process should go
// through a shared Pool so a burst of claims cannot saturate the
// reasoning backend.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool that allows at most limit concurrent reasoning calls.
func NewPool(limit int64) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(limit)}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks if all slots are busy. Returns ctx.Err() if the context
// is cancelled while waiting for a slot.
// If the pool is nil, fn is executed directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
