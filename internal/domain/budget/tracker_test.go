package budget

import (
	"errors"
	"testing"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain"
)

func TestSpendLLMCallsUpToCeiling(t *testing.T) {
	tr := NewTracker(Limits{MaxLLMCalls: 3, MaxSeconds: 600, MaxSubtasks: 1, MaxRetries: 1})

	for i := 0; i < 3; i++ {
		if err := tr.Spend(KindLLMCall); err != nil {
			t.Fatalf("call %d: expected no error, got %v", i+1, err)
		}
	}

	err := tr.Spend(KindLLMCall)
	if !errors.Is(err, domain.ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if got := tr.Usage().LLMCallsUsed; got != 3 {
		t.Fatalf("expected usage unchanged at ceiling, got %d", got)
	}
}

func TestSpendRetriesIndependentOfCalls(t *testing.T) {
	tr := NewTracker(Limits{MaxLLMCalls: 1, MaxSeconds: 600, MaxSubtasks: 1, MaxRetries: 2})

	if err := tr.Spend(KindLLMCall); err != nil {
		t.Fatalf("llm call: %v", err)
	}
	if err := tr.Spend(KindRetry); err != nil {
		t.Fatalf("retry 1: %v", err)
	}
	if err := tr.Spend(KindRetry); err != nil {
		t.Fatalf("retry 2: %v", err)
	}
	if err := tr.Spend(KindRetry); !errors.Is(err, domain.ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted on retry 3, got %v", err)
	}

	u := tr.Usage()
	if u.LLMCallsUsed != 1 || u.RetriesUsed != 2 {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestElapsedCeilingBlocksAllKinds(t *testing.T) {
	now := time.Now()
	tr := NewTracker(Limits{MaxLLMCalls: 10, MaxSeconds: 60, MaxSubtasks: 10, MaxRetries: 10})
	tr.started = now
	tr.now = func() time.Time { return now }

	if err := tr.Spend(KindLLMCall); err != nil {
		t.Fatalf("before deadline: %v", err)
	}

	now = now.Add(61 * time.Second)
	for _, kind := range []Kind{KindLLMCall, KindSubtask, KindRetry} {
		if err := tr.Spend(kind); !errors.Is(err, domain.ErrBudgetExhausted) {
			t.Fatalf("kind %s past deadline: expected ErrBudgetExhausted, got %v", kind, err)
		}
	}
}

func TestCanSpendDoesNotConsume(t *testing.T) {
	tr := NewTracker(Limits{MaxLLMCalls: 1, MaxSeconds: 600, MaxSubtasks: 1, MaxRetries: 1})

	if !tr.CanSpend(KindLLMCall) {
		t.Fatal("expected CanSpend true with budget remaining")
	}
	if got := tr.Usage().LLMCallsUsed; got != 0 {
		t.Fatalf("CanSpend consumed budget: %d", got)
	}

	if err := tr.Spend(KindLLMCall); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if tr.CanSpend(KindLLMCall) {
		t.Fatal("expected CanSpend false at ceiling")
	}
}

func TestUnknownKindRejected(t *testing.T) {
	tr := NewTracker(Defaults())
	if err := tr.Spend(Kind("banana")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
