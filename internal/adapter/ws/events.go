package ws

import (
	"context"
	"encoding/json"
)

// Event type constants for dashboard messages.
const (
	EventTaskClaimed       = "task.claimed"
	EventTaskCompleted     = "task.completed"
	EventTaskFailed        = "task.failed"
	EventTaskBudgetStop    = "task.budget_stop"
	EventNegotiationRound  = "negotiation.round"
	EventNegotiationClosed = "negotiation.closed"
	EventPredictionFlagged = "prediction.flagged"
	EventDigestPublished   = "digest.published"
)

// TaskEvent is broadcast on task lifecycle transitions.
type TaskEvent struct {
	TaskID    string `json:"task_id"`
	Type      string `json:"type"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	AgentName string `json:"agent_name,omitempty"`
}

// BudgetStopEvent is broadcast when a ceiling forces a task to wrap up
// with partial output.
type BudgetStopEvent struct {
	TaskID         string  `json:"task_id"`
	Reason         string  `json:"reason"`
	LLMCallsUsed   int     `json:"llm_calls_used"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// NegotiationEvent is broadcast on negotiation round changes.
type NegotiationEvent struct {
	NegotiationID   string `json:"negotiation_id"`
	Round           int    `json:"round"`
	Status          string `json:"status"`
	RequestingAgent string `json:"requesting_agent"`
	RespondingAgent string `json:"responding_agent"`
}

// PredictionEvent is broadcast when a prediction is flagged or
// resolved.
type PredictionEvent struct {
	PredictionID string  `json:"prediction_id"`
	Status       string  `json:"status"`
	CurrentScore float64 `json:"current_score"`
}

// DigestEvent is broadcast when a digest issue is published.
type DigestEvent struct {
	IssueID   string `json:"issue_id"`
	IssueDate string `json:"issue_date"`
	Status    string `json:"status"`
}

// BroadcastEvent marshals a typed event and broadcasts it under the
// given type. It satisfies the broadcast port.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
