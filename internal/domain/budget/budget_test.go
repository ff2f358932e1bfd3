package budget_test

import (
	"testing"

	"github.com/signaldesk/signaldesk/internal/domain/budget"
)

func TestMerge_ZeroInherit(t *testing.T) {
	base := budget.Limits{MaxLLMCalls: 10, MaxSeconds: 300, MaxSubtasks: 3, MaxRetries: 2}
	override := budget.Limits{}

	result := budget.Merge(base, override)
	if result != base {
		t.Fatalf("expected base unchanged, got %+v", result)
	}
}

func TestMerge_PartialOverride(t *testing.T) {
	base := budget.Defaults()
	override := budget.Limits{MaxLLMCalls: 25}

	result := budget.Merge(base, override)
	if result.MaxLLMCalls != 25 {
		t.Fatalf("expected MaxLLMCalls 25, got %d", result.MaxLLMCalls)
	}
	if result.MaxSeconds != base.MaxSeconds {
		t.Fatalf("expected MaxSeconds inherited, got %d", result.MaxSeconds)
	}
}

func TestCap_Enforced(t *testing.T) {
	limits := budget.Limits{MaxLLMCalls: 100, MaxSeconds: 9000, MaxSubtasks: 50, MaxRetries: 20}
	ceiling := budget.Limits{MaxLLMCalls: 10, MaxSeconds: 600, MaxSubtasks: 5, MaxRetries: 3}

	result := budget.Cap(limits, ceiling)
	if result != ceiling {
		t.Fatalf("expected every field capped, got %+v", result)
	}
}

func TestCap_ZeroCeilingMeansUncapped(t *testing.T) {
	limits := budget.Limits{MaxLLMCalls: 100, MaxSeconds: 9000}
	ceiling := budget.Limits{MaxSeconds: 600}

	result := budget.Cap(limits, ceiling)
	if result.MaxLLMCalls != 100 {
		t.Fatalf("expected MaxLLMCalls uncapped, got %d", result.MaxLLMCalls)
	}
	if result.MaxSeconds != 600 {
		t.Fatalf("expected MaxSeconds capped, got %d", result.MaxSeconds)
	}
}

func TestDeltaFrom(t *testing.T) {
	u := budget.Usage{LLMCallsUsed: 4, ElapsedSeconds: 90, RetriesUsed: 1, SubtasksCreated: 2}
	d := budget.DeltaFrom(u, 1, 0.42)

	if d.LLMCalls != 4 || d.Subtasks != 2 || d.Alerts != 1 || d.CostEstimate != 0.42 {
		t.Fatalf("unexpected delta %+v", d)
	}
}
