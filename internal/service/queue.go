package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain/budget"
	"github.com/signaldesk/signaldesk/internal/domain/task"
	"github.com/signaldesk/signaldesk/internal/port/database"
	"github.com/signaldesk/signaldesk/internal/port/messagequeue"
)

// QueueService handles the durable task queue including NATS wakeups.
// Every publish here is best-effort: the store row is the source of
// truth and pollers will find it without the message.
type QueueService struct {
	store    database.Store
	queue    messagequeue.Queue
	defaults budget.Limits
}

// NewQueueService creates a new QueueService. Enqueued tasks with no
// explicit budget get the given default ceilings.
func NewQueueService(store database.Store, queue messagequeue.Queue, defaults budget.Limits) *QueueService {
	return &QueueService{store: store, queue: queue, defaults: defaults}
}

// Enqueue validates the request, fills in default budget ceilings, saves
// the task, and wakes idle workers of the assigned role.
func (s *QueueService) Enqueue(ctx context.Context, req task.EnqueueRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Input.Budget = budget.Merge(s.defaults, req.Input.Budget)

	t, err := s.store.EnqueueTask(ctx, req)
	if err != nil {
		return nil, err
	}

	payload := messagequeue.TaskEnqueuedPayload{
		TaskID:     t.ID,
		TaskType:   string(t.Type),
		AssignedTo: string(t.AssignedTo),
		Priority:   t.Priority,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return t, fmt.Errorf("marshal task wakeup: %w", err)
	}

	subject := messagequeue.TaskEnqueuedSubject(string(t.AssignedTo))
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Error("failed to publish task wakeup", "task_id", t.ID, "error", err)
		// Task is saved in DB, so we return it even if the publish fails.
		// Pollers pick it up on the next cycle.
	}

	return t, nil
}

// Claim atomically claims up to limit pending tasks for a worker role.
func (s *QueueService) Claim(ctx context.Context, role task.Role, limit int) ([]task.Task, error) {
	return s.store.ClaimTasks(ctx, role, limit)
}

// Complete finishes an in-progress task with its output envelope and
// announces the result.
func (s *QueueService) Complete(ctx context.Context, id string, output *task.Output) error {
	if err := s.store.CompleteTask(ctx, id, output); err != nil {
		return err
	}
	s.publishResult(ctx, id)
	return nil
}

// Fail marks an in-progress task failed with the given message and
// announces the result.
func (s *QueueService) Fail(ctx context.Context, id string, errMsg string) error {
	if err := s.store.FailTask(ctx, id, errMsg); err != nil {
		return err
	}
	s.publishResult(ctx, id)
	return nil
}

// Get returns a task by ID.
func (s *QueueService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns tasks matching the filter.
func (s *QueueService) List(ctx context.Context, filter database.TaskFilter) ([]task.Task, error) {
	return s.store.ListTasks(ctx, filter)
}

// PendingCount returns how many tasks are waiting for the given role.
func (s *QueueService) PendingCount(ctx context.Context, role task.Role) (int, error) {
	return s.store.CountPendingTasks(ctx, role)
}

// Reclaim returns tasks stuck in_progress longer than olderThan to
// pending, failing the ones that are out of attempts. The maintenance
// sweep calls this on an interval; operators can force it through the
// API.
func (s *QueueService) Reclaim(ctx context.Context, olderThan time.Duration) (requeued, failed int, err error) {
	return s.store.ReclaimStuckTasks(ctx, olderThan)
}

// publishResult emits a tasks.result message for a terminal task. The
// result is durable in the store; the message is a courtesy signal.
func (s *QueueService) publishResult(ctx context.Context, id string) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		slog.Error("failed to load task for result publish", "task_id", id, "error", err)
		return
	}

	payload := messagequeue.TaskResultPayload{
		TaskID:     t.ID,
		TaskType:   string(t.Type),
		AssignedTo: string(t.AssignedTo),
		Status:     string(t.Status),
		Success:    t.Status == task.StatusCompleted,
		Error:      t.ErrorMessage,
	}
	if t.Output != nil {
		payload.Success = t.Output.Success
		payload.QualityScore = t.Output.QualityScore
		payload.LLMCallsUsed = t.Output.BudgetUsage.LLMCallsUsed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal task result", "task_id", t.ID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectTaskResult, data); err != nil {
		slog.Error("failed to publish task result", "task_id", t.ID, "error", err)
	}
}
