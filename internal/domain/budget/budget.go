// Package budget defines per-task execution ceilings and usage accounting
// for budget-bounded agent work.
package budget

// Limits defines the resource ceilings for a single task execution.
// Ceilings travel with the task in its input payload so that every worker
// enforces the same contract regardless of which process claims the task.
type Limits struct {
	MaxLLMCalls int `json:"max_llm_calls" yaml:"max_llm_calls"`
	MaxSeconds  int `json:"max_seconds" yaml:"max_seconds"`
	MaxSubtasks int `json:"max_subtasks" yaml:"max_subtasks"`
	MaxRetries  int `json:"max_retries" yaml:"max_retries"`
}

// Defaults returns the standard per-task ceilings applied when an enqueue
// request carries no explicit budget.
func Defaults() Limits {
	return Limits{
		MaxLLMCalls: 10,
		MaxSeconds:  300,
		MaxSubtasks: 3,
		MaxRetries:  2,
	}
}

// Merge returns a new Limits where non-zero fields from override replace base.
func Merge(base, override Limits) Limits {
	out := base
	if override.MaxLLMCalls > 0 {
		out.MaxLLMCalls = override.MaxLLMCalls
	}
	if override.MaxSeconds > 0 {
		out.MaxSeconds = override.MaxSeconds
	}
	if override.MaxSubtasks > 0 {
		out.MaxSubtasks = override.MaxSubtasks
	}
	if override.MaxRetries > 0 {
		out.MaxRetries = override.MaxRetries
	}
	return out
}

// Cap returns a new Limits where each field is capped at the corresponding
// ceiling value. A zero ceiling field means no cap for that field.
func Cap(limits, ceiling Limits) Limits {
	out := limits
	if ceiling.MaxLLMCalls > 0 && out.MaxLLMCalls > ceiling.MaxLLMCalls {
		out.MaxLLMCalls = ceiling.MaxLLMCalls
	}
	if ceiling.MaxSeconds > 0 && out.MaxSeconds > ceiling.MaxSeconds {
		out.MaxSeconds = ceiling.MaxSeconds
	}
	if ceiling.MaxSubtasks > 0 && out.MaxSubtasks > ceiling.MaxSubtasks {
		out.MaxSubtasks = ceiling.MaxSubtasks
	}
	if ceiling.MaxRetries > 0 && out.MaxRetries > ceiling.MaxRetries {
		out.MaxRetries = ceiling.MaxRetries
	}
	return out
}

// Usage is the cumulative resource consumption of one task execution.
// It is embedded in every task output so downstream accounting never has
// to reconstruct what an execution cost.
type Usage struct {
	LLMCallsUsed    int `json:"llm_calls_used"`
	ElapsedSeconds  int `json:"elapsed_seconds"`
	RetriesUsed     int `json:"retries_used"`
	SubtasksCreated int `json:"subtasks_created"`
}
