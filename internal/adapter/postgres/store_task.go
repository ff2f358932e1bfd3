package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/task"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

const taskColumns = `id, task_type, assigned_to, created_by, priority, status,
	input_data, output_data, error_message, attempts, max_attempts,
	created_at, started_at, completed_at`

func scanTask(row scannable) (task.Task, error) {
	var (
		t          task.Task
		inputJSON  []byte
		outputJSON []byte
	)
	err := row.Scan(&t.ID, &t.Type, &t.AssignedTo, &t.CreatedBy, &t.Priority,
		&t.Status, &inputJSON, &outputJSON, &t.ErrorMessage, &t.Attempts,
		&t.MaxAttempts, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return task.Task{}, err
	}
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &t.Input); err != nil {
			return task.Task{}, fmt.Errorf("unmarshal task input: %w", err)
		}
	}
	if len(outputJSON) > 0 {
		t.Output = &task.Output{}
		if err := json.Unmarshal(outputJSON, t.Output); err != nil {
			return task.Task{}, fmt.Errorf("unmarshal task output: %w", err)
		}
	}
	return t, nil
}

// EnqueueTask inserts a new pending task. The input envelope (budget plus
// typed payload) is stored as-is; the row's priority falls back to the
// column default when the request left it unset.
func (s *Store) EnqueueTask(ctx context.Context, req task.EnqueueRequest) (*task.Task, error) {
	inputJSON, err := json.Marshal(req.Input)
	if err != nil {
		return nil, fmt.Errorf("marshal task input: %w", err)
	}

	priority := req.Priority
	if priority == 0 {
		priority = task.DefaultPriority
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO agent_tasks (task_type, assigned_to, created_by, priority, input_data)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+taskColumns,
		req.Type, req.AssignedTo, req.CreatedBy, priority, inputJSON)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	return &t, nil
}

// ClaimTasks atomically moves up to limit pending tasks for the given role
// to in_progress and returns them. The inner SELECT takes row locks with
// SKIP LOCKED, so two workers claiming concurrently partition the pending
// set instead of double-claiming or blocking; the statement as a whole is
// the only path from pending to in_progress.
func (s *Store) ClaimTasks(ctx context.Context, assignedTo task.Role, limit int) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE agent_tasks
		 SET status = 'in_progress', started_at = now(), attempts = attempts + 1
		 WHERE id IN (
		     SELECT id FROM agent_tasks
		     WHERE status = 'pending' AND assigned_to = $1
		     ORDER BY priority ASC, created_at ASC
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		assignedTo, limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks for %s: %w", assignedTo, err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim tasks for %s: %w", assignedTo, err)
	}

	// RETURNING does not preserve the inner SELECT's order.
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// CompleteTask finalizes an in_progress task with its output. The guard
// on status makes double completion impossible: the second writer hits
// zero rows and gets ErrInvalidTransition while the first output stands.
func (s *Store) CompleteTask(ctx context.Context, id string, output *task.Output) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal task output: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_tasks
		 SET status = 'completed', output_data = $2, completed_at = now()
		 WHERE id = $1 AND status = 'in_progress'`,
		id, outputJSON)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionRefused(ctx, id, task.StatusCompleted)
	}
	return nil
}

// FailTask marks an in_progress task failed with an error message.
func (s *Store) FailTask(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_tasks
		 SET status = 'failed', error_message = $2, completed_at = now()
		 WHERE id = $1 AND status = 'in_progress'`,
		id, errMsg)
	if err != nil {
		return fmt.Errorf("fail task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionRefused(ctx, id, task.StatusFailed)
	}
	return nil
}

// transitionRefused distinguishes a missing task from a lifecycle
// violation after a guarded update affected zero rows.
func (s *Store) transitionRefused(ctx context.Context, id string, to task.Status) error {
	var current task.Status
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM agent_tasks WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("task %s status check: %w", id, err)
	}
	return fmt.Errorf("task %s is %s, cannot move to %s: %w", id, current, to, domain.ErrInvalidTransition)
}

// ReclaimStuckTasks handles in_progress tasks whose worker died: rows
// started more than olderThan ago go back to pending while attempts
// remain, otherwise they fail with a watchdog message. Both moves happen
// in one transaction so a task is never visible half-reclaimed.
func (s *Store) ReclaimStuckTasks(ctx context.Context, olderThan time.Duration) (requeued, failed int, err error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin reclaim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	requeueTag, err := tx.Exec(ctx,
		`UPDATE agent_tasks
		 SET status = 'pending', started_at = NULL
		 WHERE status = 'in_progress' AND started_at < $1 AND attempts < max_attempts`,
		cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stuck tasks: %w", err)
	}

	failTag, err := tx.Exec(ctx,
		`UPDATE agent_tasks
		 SET status = 'failed',
		     error_message = 'reclaimed after exceeding max attempts',
		     completed_at = now()
		 WHERE status = 'in_progress' AND started_at < $1 AND attempts >= max_attempts`,
		cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stuck tasks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit reclaim: %w", err)
	}
	return int(requeueTag.RowsAffected()), int(failTag.RowsAffected()), nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, filter database.TaskFilter) ([]task.Task, error) {
	q := s.sb.Select(taskColumns).
		From("agent_tasks").
		OrderBy("created_at DESC")

	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": filter.Status})
	}
	if filter.Type != "" {
		q = q.Where(squirrel.Eq{"task_type": filter.Type})
	}
	if filter.AssignedTo != "" {
		q = q.Where(squirrel.Eq{"assigned_to": filter.AssignedTo})
	}
	if filter.CreatedBy != "" {
		q = q.Where(squirrel.Eq{"created_by": filter.CreatedBy})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tasks query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountPendingTasks reports queue depth for one role, for metrics and the
// worker's idle check.
func (s *Store) CountPendingTasks(ctx context.Context, assignedTo task.Role) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agent_tasks WHERE status = 'pending' AND assigned_to = $1`,
		assignedTo).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending tasks for %s: %w", assignedTo, err)
	}
	return n, nil
}
