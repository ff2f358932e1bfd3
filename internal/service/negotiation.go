package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain/budget"
	"github.com/signaldesk/signaldesk/internal/domain/negotiation"
	"github.com/signaldesk/signaldesk/internal/domain/task"
	"github.com/signaldesk/signaldesk/internal/port/database"
	"github.com/signaldesk/signaldesk/internal/port/messagequeue"
)

// NegotiationService handles the bounded request/response handshake
// between worker roles. Opening or escalating a negotiation always
// enqueues the task that will answer it, in the same store transaction.
type NegotiationService struct {
	store    database.Store
	queue    messagequeue.Queue
	defaults budget.Limits
}

// NewNegotiationService creates a new NegotiationService. Response tasks
// with no explicit budget get the given default ceilings.
func NewNegotiationService(store database.Store, queue messagequeue.Queue, defaults budget.Limits) *NegotiationService {
	return &NegotiationService{store: store, queue: queue, defaults: defaults}
}

// Open starts a round-1 negotiation and enqueues its response task.
// Unset response task fields default from the request: the responding
// agent answers, attributed to the requesting agent. The store injects
// the negotiation brief into the task input and enforces the per-task
// cap atomically.
func (s *NegotiationService) Open(ctx context.Context, req negotiation.OpenRequest, responseTask task.EnqueueRequest) (*negotiation.Negotiation, *task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if responseTask.AssignedTo == "" {
		responseTask.AssignedTo = task.Role(req.RespondingAgent)
	}
	if responseTask.CreatedBy == "" {
		responseTask.CreatedBy = req.RequestingAgent
	}
	responseTask.Input.Budget = budget.Merge(s.defaults, responseTask.Input.Budget)
	if err := responseTask.Validate(); err != nil {
		return nil, nil, err
	}

	n, respTask, err := s.store.OpenNegotiation(ctx, req, responseTask)
	if err != nil {
		return nil, nil, err
	}

	s.publishOpened(ctx, n)
	s.publishWakeup(ctx, respTask)
	return n, respTask, nil
}

// Get returns a negotiation by ID.
func (s *NegotiationService) Get(ctx context.Context, id string) (*negotiation.Negotiation, error) {
	return s.store.GetNegotiation(ctx, id)
}

// CountForTask returns how many negotiations a request task has opened.
func (s *NegotiationService) CountForTask(ctx context.Context, requestTaskID string) (int, error) {
	return s.store.CountNegotiationsForTask(ctx, requestTaskID)
}

// Respond records the responder's answer. Meeting the criteria closes
// the negotiation; falling short leaves it open for the requester to
// escalate or let time out.
func (s *NegotiationService) Respond(ctx context.Context, id string, criteriaMet bool, summary string) (*negotiation.Negotiation, error) {
	n, err := s.store.RecordNegotiationResponse(ctx, id, criteriaMet, summary)
	if err != nil {
		return nil, err
	}
	if negotiation.Terminal(n.Status) {
		s.publishClosed(ctx, n)
	}
	return n, nil
}

// FollowUp escalates an open negotiation into another round and enqueues
// the follow-up response task. Rounds are bounded by the needed_by
// deadline, not a count: escalation past the deadline is refused.
func (s *NegotiationService) FollowUp(ctx context.Context, id string, responseTask task.EnqueueRequest) (*negotiation.Negotiation, *task.Task, error) {
	existing, err := s.store.GetNegotiation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if responseTask.AssignedTo == "" {
		responseTask.AssignedTo = task.Role(existing.RespondingAgent)
	}
	if responseTask.CreatedBy == "" {
		responseTask.CreatedBy = existing.RequestingAgent
	}
	responseTask.Input.Budget = budget.Merge(s.defaults, responseTask.Input.Budget)
	if err := responseTask.Validate(); err != nil {
		return nil, nil, err
	}

	n, respTask, err := s.store.EscalateNegotiation(ctx, id, responseTask)
	if err != nil {
		return nil, nil, err
	}

	s.publishWakeup(ctx, respTask)
	return n, respTask, nil
}

// PendingFor returns answered or timed-out negotiations the requesting
// agent has not folded into a run yet.
func (s *NegotiationService) PendingFor(ctx context.Context, requestingAgent string) ([]negotiation.Negotiation, error) {
	return s.store.ListNegotiationsAwaiting(ctx, requestingAgent)
}

// MarkConsumed records that the requesting agent folded these outcomes
// into a run, so they stop surfacing as pending.
func (s *NegotiationService) MarkConsumed(ctx context.Context, ids []string) (int, error) {
	return s.store.MarkNegotiationsConsumed(ctx, ids)
}

// SweepTimeouts expires every negotiation past its deadline and returns
// how many were closed. The requesting agents proceed without the
// enrichment; that is the protocol working, not an error.
func (s *NegotiationService) SweepTimeouts(ctx context.Context, now time.Time) (int, error) {
	return s.store.TimeOutNegotiations(ctx, now)
}

func (s *NegotiationService) publishOpened(ctx context.Context, n *negotiation.Negotiation) {
	payload := messagequeue.NegotiationOpenedPayload{
		NegotiationID:   n.ID,
		RequestingAgent: n.RequestingAgent,
		RespondingAgent: n.RespondingAgent,
		ResponseTaskID:  n.ResponseTaskID,
		Round:           n.Round,
		NeededBy:        n.NeededBy,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal negotiation opened event", "negotiation_id", n.ID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectNegotiationOpened, data); err != nil {
		slog.Error("failed to publish negotiation opened event", "negotiation_id", n.ID, "error", err)
	}
}

func (s *NegotiationService) publishClosed(ctx context.Context, n *negotiation.Negotiation) {
	payload := messagequeue.NegotiationClosedPayload{
		NegotiationID: n.ID,
		Status:        string(n.Status),
		Round:         n.Round,
	}
	if n.CriteriaMet != nil {
		payload.CriteriaMet = *n.CriteriaMet
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal negotiation closed event", "negotiation_id", n.ID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectNegotiationClosed, data); err != nil {
		slog.Error("failed to publish negotiation closed event", "negotiation_id", n.ID, "error", err)
	}
}

// publishWakeup wakes workers of the responding role for a response task
// enqueued inside a store transaction, where no queue publish happened.
func (s *NegotiationService) publishWakeup(ctx context.Context, t *task.Task) {
	payload := messagequeue.TaskEnqueuedPayload{
		TaskID:     t.ID,
		TaskType:   string(t.Type),
		AssignedTo: string(t.AssignedTo),
		Priority:   t.Priority,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal task wakeup", "task_id", t.ID, "error", err)
		return
	}
	subject := messagequeue.TaskEnqueuedSubject(string(t.AssignedTo))
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Error("failed to publish task wakeup", "task_id", t.ID, "error", err)
	}
}
