package http

import (
	"net/http"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain/negotiation"
	"github.com/signaldesk/signaldesk/internal/domain/task"
)

// --- Negotiation Endpoints ---

type openNegotiationRequest struct {
	RequestingAgent string    `json:"requesting_agent"`
	RespondingAgent string    `json:"responding_agent"`
	RequestTaskID   string    `json:"request_task_id"`
	RequestSummary  string    `json:"request_summary"`
	QualityCriteria string    `json:"quality_criteria"`
	NeededBy        time.Time `json:"needed_by"`
	TaskType        task.Type `json:"task_type,omitempty"`
}

// OpenNegotiation handles POST /api/v1/negotiations
//
// Operators mostly read negotiations; this exists so a missing
// cross-agent ask can be injected by hand without waiting for the
// requesting agent's next run.
func (h *Handlers) OpenNegotiation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[openNegotiationRequest](w, r)
	if !ok {
		return
	}
	taskType := req.TaskType
	if taskType == "" {
		taskType = task.TypeResearchRequest
	}

	n, respTask, err := h.Negotiations.Open(r.Context(), negotiation.OpenRequest{
		RequestingAgent: req.RequestingAgent,
		RespondingAgent: req.RespondingAgent,
		RequestTaskID:   req.RequestTaskID,
		RequestSummary:  req.RequestSummary,
		QualityCriteria: req.QualityCriteria,
		NeededBy:        req.NeededBy,
	}, task.EnqueueRequest{Type: taskType})
	if err != nil {
		writeDomainError(w, err, "request task not found")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"negotiation":   n,
		"response_task": respTask,
	})
}

// ListNegotiations handles GET /api/v1/negotiations
//
// The only list the store supports is the consumption queue: answered
// or timed-out negotiations an agent has not folded in yet.
func (h *Handlers) ListNegotiations(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("awaiting")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "awaiting query parameter is required")
		return
	}
	negotiations, err := h.Negotiations.PendingFor(r.Context(), agent)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if negotiations == nil {
		negotiations = []negotiation.Negotiation{}
	}
	writeJSON(w, http.StatusOK, negotiations)
}

type respondNegotiationRequest struct {
	CriteriaMet     bool   `json:"criteria_met"`
	ResponseSummary string `json:"response_summary"`
}

// RespondNegotiation handles POST /api/v1/negotiations/{id}/respond
func (h *Handlers) RespondNegotiation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[respondNegotiationRequest](w, r)
	if !ok {
		return
	}
	n, err := h.Negotiations.Respond(r.Context(), id, req.CriteriaMet, req.ResponseSummary)
	if err != nil {
		writeDomainError(w, err, "negotiation not found")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type followUpRequest struct {
	TaskType task.Type `json:"task_type,omitempty"`
}

// FollowUpNegotiation handles POST /api/v1/negotiations/{id}/follow-up
//
// Escalates an unmet response into another round. The round cap and
// the open/follow_up transition guard both live below the service, so
// repeated clicks are harmless.
func (h *Handlers) FollowUpNegotiation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[followUpRequest](w, r)
	if !ok {
		return
	}
	taskType := req.TaskType
	if taskType == "" {
		taskType = task.TypeResearchRequest
	}

	n, respTask, err := h.Negotiations.FollowUp(r.Context(), id, task.EnqueueRequest{Type: taskType})
	if err != nil {
		writeDomainError(w, err, "negotiation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"negotiation":   n,
		"response_task": respTask,
	})
}
