package budget

import (
	"fmt"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain"
)

// Kind names a unit of budgeted work.
type Kind string

const (
	KindLLMCall Kind = "llm_call"
	KindSubtask Kind = "subtask"
	KindRetry   Kind = "retry"
)

// Tracker accounts for one task execution against its Limits. It is not
// safe for concurrent use; each execution owns exactly one Tracker.
//
// Elapsed time is advisory: it is checked between units of work, never
// enforced preemptively, so a slow reasoning call can overrun MaxSeconds
// and only the next Spend notices.
type Tracker struct {
	limits  Limits
	started time.Time
	now     func() time.Time

	llmCalls int
	subtasks int
	retries  int
}

// NewTracker returns a Tracker enforcing the given limits from now on.
func NewTracker(limits Limits) *Tracker {
	t := &Tracker{limits: limits, now: time.Now}
	t.started = t.now()
	return t
}

// Spend records one unit of the given kind, or reports ErrBudgetExhausted
// if the unit would exceed its ceiling. Exhaustion is a stop signal, not a
// failure: the caller packages partial output and completes normally.
func (t *Tracker) Spend(kind Kind) error {
	if t.limits.MaxSeconds > 0 && t.ElapsedSeconds() >= t.limits.MaxSeconds {
		return fmt.Errorf("elapsed %ds of %ds: %w", t.ElapsedSeconds(), t.limits.MaxSeconds, domain.ErrBudgetExhausted)
	}

	switch kind {
	case KindLLMCall:
		if t.llmCalls >= t.limits.MaxLLMCalls {
			return fmt.Errorf("llm calls %d of %d: %w", t.llmCalls, t.limits.MaxLLMCalls, domain.ErrBudgetExhausted)
		}
		t.llmCalls++
	case KindSubtask:
		if t.subtasks >= t.limits.MaxSubtasks {
			return fmt.Errorf("subtasks %d of %d: %w", t.subtasks, t.limits.MaxSubtasks, domain.ErrBudgetExhausted)
		}
		t.subtasks++
	case KindRetry:
		if t.retries >= t.limits.MaxRetries {
			return fmt.Errorf("retries %d of %d: %w", t.retries, t.limits.MaxRetries, domain.ErrBudgetExhausted)
		}
		t.retries++
	default:
		return fmt.Errorf("unknown budget kind %q: %w", kind, domain.ErrValidation)
	}
	return nil
}

// CanSpend reports whether one more unit of the given kind fits the budget
// without consuming it.
func (t *Tracker) CanSpend(kind Kind) bool {
	if t.limits.MaxSeconds > 0 && t.ElapsedSeconds() >= t.limits.MaxSeconds {
		return false
	}
	switch kind {
	case KindLLMCall:
		return t.llmCalls < t.limits.MaxLLMCalls
	case KindSubtask:
		return t.subtasks < t.limits.MaxSubtasks
	case KindRetry:
		return t.retries < t.limits.MaxRetries
	}
	return false
}

// ElapsedSeconds returns whole seconds since the tracker was created.
func (t *Tracker) ElapsedSeconds() int {
	return int(t.now().Sub(t.started) / time.Second)
}

// Limits returns the ceilings this tracker enforces.
func (t *Tracker) Limits() Limits { return t.limits }

// Usage returns the consumption snapshot for embedding in task output.
func (t *Tracker) Usage() Usage {
	return Usage{
		LLMCallsUsed:    t.llmCalls,
		ElapsedSeconds:  t.ElapsedSeconds(),
		RetriesUsed:     t.retries,
		SubtasksCreated: t.subtasks,
	}
}
