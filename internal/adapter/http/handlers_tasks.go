package http

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/signaldesk/signaldesk/internal/domain/task"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

// --- Task Queue Endpoints ---

// EnqueueTask handles POST /api/v1/tasks
func (h *Handlers) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.EnqueueRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Queue.Enqueue(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "enqueue failed")
		return
	}
	if h.Metrics != nil {
		h.Metrics.TasksEnqueued.Add(r.Context(), 1, metric.WithAttributes(
			attribute.String("task.type", string(t.Type)),
			attribute.String("role", string(t.AssignedTo)),
		))
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.TaskFilter{
		Status:     task.Status(q.Get("status")),
		Type:       task.Type(q.Get("type")),
		AssignedTo: task.Role(q.Get("assigned_to")),
		CreatedBy:  q.Get("created_by"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	tasks, err := h.Queue.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CompleteTask handles POST /api/v1/tasks/{id}/complete
//
// Operator escape hatch: accepts a full output envelope for a task a
// worker left in progress. The store's transition guard still applies,
// so this can never overwrite a finished task.
func (h *Handlers) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	output, ok := readJSON[task.Output](w, r)
	if !ok {
		return
	}
	if err := h.Queue.Complete(r.Context(), id, &output); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	t, err := h.Queue.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type failTaskRequest struct {
	Error string `json:"error"`
}

// FailTask handles POST /api/v1/tasks/{id}/fail
func (h *Handlers) FailTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[failTaskRequest](w, r)
	if !ok {
		return
	}
	if req.Error == "" {
		writeError(w, http.StatusBadRequest, "error is required")
		return
	}
	if err := h.Queue.Fail(r.Context(), id, req.Error); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	t, err := h.Queue.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type reclaimRequest struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

// ReclaimTasks handles POST /api/v1/tasks/reclaim
//
// Forces the stuck-task sweep outside its schedule, typically after a
// worker host dies.
func (h *Handlers) ReclaimTasks(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[reclaimRequest](w, r)
	if !ok {
		return
	}
	if req.OlderThanMinutes <= 0 {
		req.OlderThanMinutes = 15
	}

	requeued, failed, err := h.Queue.Reclaim(r.Context(), time.Duration(req.OlderThanMinutes)*time.Minute)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"requeued": requeued,
		"failed":   failed,
	})
}
