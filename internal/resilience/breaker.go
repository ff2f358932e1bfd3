// Package resilience wraps calls to flaky upstreams, chiefly the
// reasoning backend the worker fleet depends on.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a consecutive-failure circuit breaker. After maxFailures
// failed calls in a row it rejects everything until the cooldown passes,
// then lets probes through: a success closes the circuit again, a failure
// starts another cooldown.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	cooldown    time.Duration
	reopenAt    time.Time
	now         func() time.Time // for testing
}

// NewBreaker creates a breaker that trips after maxFailures consecutive
// failures and rejects calls for the given cooldown before probing again.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.settle(err)
	return err
}

// State reports "closed", "open" or "half-open", for log lines and
// health output.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// admit decides whether a call may proceed, moving an expired open
// circuit to half-open on the way through.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if b.now().Before(b.reopenAt) {
			return ErrCircuitOpen
		}
		b.state = stateHalfOpen
	}
	return nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.state = stateClosed
		return
	}

	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.reopenAt = b.now().Add(b.cooldown)
	}
}
