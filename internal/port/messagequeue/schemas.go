package messagequeue

import "time"

// TaskEnqueuedPayload is the schema for tasks.enqueued.{role} messages.
type TaskEnqueuedPayload struct {
	TaskID     string `json:"task_id"`
	TaskType   string `json:"task_type"`
	AssignedTo string `json:"assigned_to"`
	Priority   int    `json:"priority"`
}

// TaskResultPayload is the schema for tasks.result messages.
type TaskResultPayload struct {
	TaskID       string `json:"task_id"`
	TaskType     string `json:"task_type"`
	AssignedTo   string `json:"assigned_to"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
	QualityScore int    `json:"quality_score,omitempty"`
	Error        string `json:"error,omitempty"`
	LLMCallsUsed int    `json:"llm_calls_used"`
}

// NegotiationOpenedPayload is the schema for negotiations.opened messages.
type NegotiationOpenedPayload struct {
	NegotiationID   string    `json:"negotiation_id"`
	RequestingAgent string    `json:"requesting_agent"`
	RespondingAgent string    `json:"responding_agent"`
	ResponseTaskID  string    `json:"response_task_id"`
	Round           int       `json:"round"`
	NeededBy        time.Time `json:"needed_by"`
}

// NegotiationClosedPayload is the schema for negotiations.closed messages.
type NegotiationClosedPayload struct {
	NegotiationID string `json:"negotiation_id"`
	Status        string `json:"status"`
	CriteriaMet   bool   `json:"criteria_met"`
	Round         int    `json:"round"`
}

// PredictionFlaggedPayload is the schema for predictions.flagged messages.
type PredictionFlaggedPayload struct {
	PredictionID string    `json:"prediction_id"`
	TargetDate   time.Time `json:"target_date"`
	CurrentScore float64   `json:"current_score"`
}

// DigestPublishedPayload is the schema for digest.published messages.
type DigestPublishedPayload struct {
	IssueID       string    `json:"issue_id"`
	IssueDate     time.Time `json:"issue_date"`
	Opportunities []string  `json:"opportunities,omitempty"`
	Predictions   []string  `json:"predictions,omitempty"`
}
