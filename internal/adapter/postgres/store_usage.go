package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/signaldesk/signaldesk/internal/domain/budget"
)

// AddDailyUsage folds one execution's consumption into the per-agent,
// per-day ledger row. Insert and increment are a single upsert statement,
// so concurrent workers for the same agent never lose updates.
func (s *Store) AddDailyUsage(ctx context.Context, agent string, day time.Time, delta budget.UsageDelta) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_daily_usage (agent_name, usage_date, llm_calls_used, subtasks_created, alerts_sent, cost_estimate)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (agent_name, usage_date) DO UPDATE SET
		     llm_calls_used   = agent_daily_usage.llm_calls_used + EXCLUDED.llm_calls_used,
		     subtasks_created = agent_daily_usage.subtasks_created + EXCLUDED.subtasks_created,
		     alerts_sent      = agent_daily_usage.alerts_sent + EXCLUDED.alerts_sent,
		     cost_estimate    = agent_daily_usage.cost_estimate + EXCLUDED.cost_estimate,
		     updated_at       = now()`,
		agent, dateOnly(day), delta.LLMCalls, delta.Subtasks, delta.Alerts, delta.CostEstimate)
	if err != nil {
		return fmt.Errorf("add daily usage for %s: %w", agent, err)
	}
	return nil
}

// GetDailyUsage returns one agent's ledger row for the given day. A day
// with no recorded work yields a zeroed row rather than ErrNotFound; the
// ledger observes, it does not gate.
func (s *Store) GetDailyUsage(ctx context.Context, agent string, day time.Time) (*budget.DailyUsage, error) {
	date := dateOnly(day)
	row := s.pool.QueryRow(ctx,
		`SELECT agent_name, usage_date, llm_calls_used, subtasks_created, alerts_sent, cost_estimate, updated_at
		 FROM agent_daily_usage WHERE agent_name = $1 AND usage_date = $2`,
		agent, date)

	var u budget.DailyUsage
	err := row.Scan(&u.AgentName, &u.Date, &u.LLMCallsUsed, &u.SubtasksCreated,
		&u.AlertsSent, &u.CostEstimate, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &budget.DailyUsage{AgentName: agent, Date: date}, nil
		}
		return nil, fmt.Errorf("get daily usage for %s: %w", agent, err)
	}
	return &u, nil
}

// ListDailyUsage returns every agent's ledger row for the given day.
func (s *Store) ListDailyUsage(ctx context.Context, day time.Time) ([]budget.DailyUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_name, usage_date, llm_calls_used, subtasks_created, alerts_sent, cost_estimate, updated_at
		 FROM agent_daily_usage WHERE usage_date = $1 ORDER BY agent_name`,
		dateOnly(day))
	if err != nil {
		return nil, fmt.Errorf("list daily usage: %w", err)
	}
	defer rows.Close()

	var usages []budget.DailyUsage
	for rows.Next() {
		var u budget.DailyUsage
		if err := rows.Scan(&u.AgentName, &u.Date, &u.LLMCallsUsed, &u.SubtasksCreated,
			&u.AlertsSent, &u.CostEstimate, &u.UpdatedAt); err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}
