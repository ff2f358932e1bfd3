package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/negotiation"
	"github.com/signaldesk/signaldesk/internal/domain/task"
)

const negotiationColumns = `id, requesting_agent, responding_agent, request_task_id,
	response_task_id, request_summary, quality_criteria, needed_by, status,
	criteria_met, response_summary, round, created_at, closed_at, consumed_at`

func scanNegotiation(row scannable) (negotiation.Negotiation, error) {
	var (
		n              negotiation.Negotiation
		responseTaskID *string
	)
	err := row.Scan(&n.ID, &n.RequestingAgent, &n.RespondingAgent, &n.RequestTaskID,
		&responseTaskID, &n.RequestSummary, &n.QualityCriteria, &n.NeededBy,
		&n.Status, &n.CriteriaMet, &n.ResponseSummary, &n.Round,
		&n.CreatedAt, &n.ClosedAt, &n.ConsumedAt)
	if err != nil {
		return negotiation.Negotiation{}, err
	}
	if responseTaskID != nil {
		n.ResponseTaskID = *responseTaskID
	}
	return n, nil
}

// OpenNegotiation creates a round-1 negotiation and its response task in
// one transaction. The originating task row is locked FOR UPDATE before
// the cap count, so concurrent opens for the same request task (a
// reclaimed task can run on two workers at once) serialize on that lock
// instead of each reading a stale count and slipping under the limit.
// The response task's input gets the negotiation brief injected, so the
// responder can answer without looking the negotiation up first.
func (s *Store) OpenNegotiation(ctx context.Context, req negotiation.OpenRequest, responseTask task.EnqueueRequest) (*negotiation.Negotiation, *task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin open negotiation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var originID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM agent_tasks WHERE id = $1 FOR UPDATE`,
		req.RequestTaskID).Scan(&originID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("request task %s: %w", req.RequestTaskID, domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("lock request task %s: %w", req.RequestTaskID, err)
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM negotiations WHERE request_task_id = $1`,
		req.RequestTaskID).Scan(&count)
	if err != nil {
		return nil, nil, fmt.Errorf("count negotiations for task %s: %w", req.RequestTaskID, err)
	}
	if count >= task.MaxNegotiationRequests {
		return nil, nil, fmt.Errorf("task %s already opened %d negotiations (max %d): %w",
			req.RequestTaskID, count, task.MaxNegotiationRequests, domain.ErrValidation)
	}

	negRow := tx.QueryRow(ctx,
		`INSERT INTO negotiations (requesting_agent, responding_agent, request_task_id,
		     request_summary, quality_criteria, needed_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+negotiationColumns,
		req.RequestingAgent, req.RespondingAgent, req.RequestTaskID,
		req.RequestSummary, req.QualityCriteria, req.NeededBy)
	n, err := scanNegotiation(negRow)
	if err != nil {
		return nil, nil, fmt.Errorf("create negotiation: %w", err)
	}

	respTask, err := enqueueResponseTask(ctx, tx, &n, responseTask)
	if err != nil {
		return nil, nil, err
	}
	n.ResponseTaskID = respTask.ID

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit open negotiation: %w", err)
	}
	return &n, respTask, nil
}

// enqueueResponseTask inserts the task that will answer a negotiation
// round and links the negotiation to it, inside the caller's
// transaction. The input brief is rebuilt from the negotiation row so
// the id and round are always current.
func enqueueResponseTask(ctx context.Context, tx pgx.Tx, n *negotiation.Negotiation, responseTask task.EnqueueRequest) (*task.Task, error) {
	responseTask.Input.Negotiation = &task.NegotiationBrief{
		NegotiationID:   n.ID,
		RequestingAgent: n.RequestingAgent,
		RequestSummary:  n.RequestSummary,
		QualityCriteria: n.QualityCriteria,
		NeededBy:        n.NeededBy,
		Round:           n.Round,
	}
	inputJSON, err := json.Marshal(responseTask.Input)
	if err != nil {
		return nil, fmt.Errorf("marshal response task input: %w", err)
	}
	priority := responseTask.Priority
	if priority == 0 {
		priority = task.DefaultPriority
	}

	taskRow := tx.QueryRow(ctx,
		`INSERT INTO agent_tasks (task_type, assigned_to, created_by, priority, input_data)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+taskColumns,
		responseTask.Type, responseTask.AssignedTo, responseTask.CreatedBy, priority, inputJSON)
	respTask, err := scanTask(taskRow)
	if err != nil {
		return nil, fmt.Errorf("enqueue response task: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE negotiations SET response_task_id = $2 WHERE id = $1`,
		n.ID, respTask.ID); err != nil {
		return nil, fmt.Errorf("link response task: %w", err)
	}
	return &respTask, nil
}

func (s *Store) GetNegotiation(ctx context.Context, id string) (*negotiation.Negotiation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+negotiationColumns+` FROM negotiations WHERE id = $1`, id)

	n, err := scanNegotiation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get negotiation %s", id)
	}
	return &n, nil
}

// CountNegotiationsForTask reports how many negotiations a request task
// has opened across all its rounds.
func (s *Store) CountNegotiationsForTask(ctx context.Context, requestTaskID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM negotiations WHERE request_task_id = $1`, requestTaskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count negotiations for task %s: %w", requestTaskID, err)
	}
	return n, nil
}

// RecordNegotiationResponse stores the responder's answer. Met criteria
// close the negotiation; an unmet answer keeps it open so the requester
// can escalate or let it time out. Answering a terminal negotiation is
// refused.
func (s *Store) RecordNegotiationResponse(ctx context.Context, id string, criteriaMet bool, summary string) (*negotiation.Negotiation, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE negotiations
		 SET criteria_met = $2,
		     response_summary = $3,
		     status = CASE WHEN $2 THEN 'closed' ELSE 'open' END,
		     closed_at = CASE WHEN $2 THEN now() ELSE NULL END
		 WHERE id = $1 AND status IN ('open', 'follow_up')
		 RETURNING `+negotiationColumns,
		id, criteriaMet, summary)

	n, err := scanNegotiation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.negotiationRefused(ctx, id, "respond to")
		}
		return nil, fmt.Errorf("record negotiation response %s: %w", id, err)
	}
	return &n, nil
}

// EscalateNegotiation starts a follow-up round: bumps the round counter,
// clears the previous answer, and enqueues the new response task, all in
// one transaction. Only an open negotiation before its deadline can
// escalate.
func (s *Store) EscalateNegotiation(ctx context.Context, id string, responseTask task.EnqueueRequest) (*negotiation.Negotiation, *task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin escalate negotiation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	negRow := tx.QueryRow(ctx,
		`UPDATE negotiations
		 SET round = round + 1,
		     status = 'follow_up',
		     criteria_met = NULL,
		     response_summary = '',
		     consumed_at = NULL
		 WHERE id = $1 AND status = 'open' AND needed_by > now()
		 RETURNING `+negotiationColumns,
		id)
	n, err := scanNegotiation(negRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, s.negotiationRefused(ctx, id, "escalate")
		}
		return nil, nil, fmt.Errorf("escalate negotiation %s: %w", id, err)
	}

	respTask, err := enqueueResponseTask(ctx, tx, &n, responseTask)
	if err != nil {
		return nil, nil, err
	}
	n.ResponseTaskID = respTask.ID

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit escalate negotiation: %w", err)
	}
	return &n, respTask, nil
}

// negotiationRefused explains why a guarded negotiation update matched
// nothing: missing row, terminal status, or a passed deadline.
func (s *Store) negotiationRefused(ctx context.Context, id, verb string) error {
	var (
		status   negotiation.Status
		neededBy time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT status, needed_by FROM negotiations WHERE id = $1`, id).Scan(&status, &neededBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("negotiation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("negotiation %s status check: %w", id, err)
	}
	if !negotiation.Terminal(status) && time.Now().After(neededBy) {
		return fmt.Errorf("cannot %s negotiation %s past its deadline: %w", verb, id, domain.ErrNegotiationTimedOut)
	}
	return fmt.Errorf("cannot %s negotiation %s in status %s: %w", verb, id, status, domain.ErrInvalidTransition)
}

// ListNegotiationsAwaiting returns exchanges the requesting agent has not
// folded into a run yet: answered rounds and timeouts it should know
// about. Ordered oldest first so long-waiting answers surface first.
func (s *Store) ListNegotiationsAwaiting(ctx context.Context, requestingAgent string) ([]negotiation.Negotiation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+negotiationColumns+` FROM negotiations
		 WHERE requesting_agent = $1
		   AND consumed_at IS NULL
		   AND (criteria_met IS NOT NULL OR status = 'timed_out')
		 ORDER BY created_at ASC`,
		requestingAgent)
	if err != nil {
		return nil, fmt.Errorf("list negotiations awaiting %s: %w", requestingAgent, err)
	}
	defer rows.Close()

	var ns []negotiation.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		ns = append(ns, n)
	}
	return ns, rows.Err()
}

// MarkNegotiationsConsumed records that the requester has folded these
// exchanges into a run, removing them from the awaiting list.
func (s *Store) MarkNegotiationsConsumed(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE negotiations SET consumed_at = now()
		 WHERE id = ANY($1) AND consumed_at IS NULL`, ids)
	if err != nil {
		return 0, fmt.Errorf("mark negotiations consumed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// TimeOutNegotiations closes every unresolved negotiation whose deadline
// has passed. Returns how many were timed out.
func (s *Store) TimeOutNegotiations(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE negotiations
		 SET status = 'timed_out', closed_at = $1
		 WHERE status IN ('open', 'follow_up') AND needed_by < $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("time out negotiations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
