package budget

import "time"

// DailyUsage is the per-agent, per-day consumption ledger row. It exists
// for observability and cost control, not hard enforcement: per-task
// ceilings are the enforcement mechanism, the daily ledger records what
// actually happened. One row per (agent_name, date); day rollover starts
// a fresh row rather than resetting the old one.
type DailyUsage struct {
	AgentName       string    `json:"agent_name"`
	Date            time.Time `json:"date"`
	LLMCallsUsed    int       `json:"llm_calls_used"`
	SubtasksCreated int       `json:"subtasks_created"`
	AlertsSent      int       `json:"proactive_alerts_sent"`
	CostEstimate    float64   `json:"total_cost_estimate"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UsageDelta is one execution's contribution to the daily ledger.
type UsageDelta struct {
	LLMCalls     int
	Subtasks     int
	Alerts       int
	CostEstimate float64
}

// DeltaFrom converts an execution usage snapshot into a ledger delta.
func DeltaFrom(u Usage, alerts int, cost float64) UsageDelta {
	return UsageDelta{
		LLMCalls:     u.LLMCallsUsed,
		Subtasks:     u.SubtasksCreated,
		Alerts:       alerts,
		CostEstimate: cost,
	}
}
