package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/prediction"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

const predictionColumns = `id, prediction_text, initial_confidence, current_score, status,
	target_date, resolution_notes, flagged_at, resolved_at, last_tracked, created_at`

func scanPrediction(row scannable) (prediction.Prediction, error) {
	var p prediction.Prediction
	err := row.Scan(&p.ID, &p.PredictionText, &p.InitialConfidence, &p.CurrentScore,
		&p.Status, &p.TargetDate, &p.ResolutionNotes, &p.FlaggedAt, &p.ResolvedAt,
		&p.LastTracked, &p.CreatedAt)
	if err != nil {
		return prediction.Prediction{}, err
	}
	return p, nil
}

// CreatePrediction records a new active forecast. The derived score
// starts at the stated initial confidence.
func (s *Store) CreatePrediction(ctx context.Context, req prediction.CreateRequest) (*prediction.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO predictions (prediction_text, initial_confidence, current_score, target_date)
		 VALUES ($1, $2, $2, $3)
		 RETURNING `+predictionColumns,
		req.PredictionText, req.InitialConfidence, dateOnly(req.TargetDate))

	p, err := scanPrediction(row)
	if err != nil {
		return nil, fmt.Errorf("create prediction: %w", err)
	}
	return &p, nil
}

func (s *Store) GetPrediction(ctx context.Context, id string) (*prediction.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id)

	p, err := scanPrediction(row)
	if err != nil {
		return nil, notFoundWrap(err, "get prediction %s", id)
	}
	return &p, nil
}

// ListPredictions returns predictions matching the filter, newest first.
func (s *Store) ListPredictions(ctx context.Context, filter database.PredictionFilter) ([]prediction.Prediction, error) {
	q := s.sb.Select(predictionColumns).
		From("predictions").
		OrderBy("created_at DESC")

	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": filter.Status})
	}
	if !filter.TargetBefore.IsZero() {
		q = q.Where(squirrel.Lt{"target_date": dateOnly(filter.TargetBefore)})
	}
	if !filter.TargetAfter.IsZero() {
		q = q.Where(squirrel.GtOrEq{"target_date": dateOnly(filter.TargetAfter)})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list predictions query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

// ListPublishablePredictions returns the only predictions a publication
// may include as live forecasts: active ones whose target date has not
// passed. Stale or flagged rows never appear here.
func (s *Store) ListPublishablePredictions(ctx context.Context, today time.Time) ([]prediction.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionColumns+` FROM predictions
		 WHERE status = 'active' AND target_date >= $1
		 ORDER BY current_score DESC, created_at ASC`,
		dateOnly(today))
	if err != nil {
		return nil, fmt.Errorf("list publishable predictions: %w", err)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

// ListStalePredictions returns unresolved predictions past their target
// date, the resolution work-list for the tracking task and operators.
func (s *Store) ListStalePredictions(ctx context.Context, today time.Time) ([]prediction.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionColumns+` FROM predictions
		 WHERE status IN ('active', 'flagged') AND target_date < $1
		 ORDER BY target_date ASC`,
		dateOnly(today))
	if err != nil {
		return nil, fmt.Errorf("list stale predictions: %w", err)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

func collectPredictions(rows pgx.Rows) ([]prediction.Prediction, error) {
	var ps []prediction.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

// AppendTracking adds one evaluation snapshot to the history and writes
// the recomputed score onto the parent row in the same transaction. The
// history is append-only; nothing ever updates or deletes entries.
func (s *Store) AppendTracking(ctx context.Context, id string, entry prediction.TrackingEntry, newScore float64) (*prediction.Prediction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append tracking: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	trackedAt := entry.TrackedAt
	if trackedAt.IsZero() {
		trackedAt = time.Now().UTC()
	}

	predRow := tx.QueryRow(ctx,
		`UPDATE predictions
		 SET current_score = $2, last_tracked = $3
		 WHERE id = $1 AND status IN ('active', 'flagged')
		 RETURNING `+predictionColumns,
		id, newScore, trackedAt)
	p, err := scanPrediction(predRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.predictionRefused(ctx, id, "track")
		}
		return nil, fmt.Errorf("update prediction score %s: %w", id, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO prediction_tracking (prediction_id, observed_signal, score, notes, tracked_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, entry.ObservedSignal, entry.Score, entry.Notes, trackedAt)
	if err != nil {
		return nil, fmt.Errorf("append tracking entry for %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append tracking: %w", err)
	}
	return &p, nil
}

// ListTracking returns a prediction's full evaluation history, oldest
// first.
func (s *Store) ListTracking(ctx context.Context, predictionID string) ([]prediction.TrackingEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, prediction_id, observed_signal, score, notes, tracked_at
		 FROM prediction_tracking WHERE prediction_id = $1 ORDER BY tracked_at ASC`,
		predictionID)
	if err != nil {
		return nil, fmt.Errorf("list tracking for %s: %w", predictionID, err)
	}
	defer rows.Close()

	var entries []prediction.TrackingEntry
	for rows.Next() {
		var e prediction.TrackingEntry
		if err := rows.Scan(&e.ID, &e.PredictionID, &e.ObservedSignal, &e.Score,
			&e.Notes, &e.TrackedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResolvePrediction moves an unresolved prediction to a terminal outcome.
// Resolution is one-directional: a second resolve is refused.
func (s *Store) ResolvePrediction(ctx context.Context, id string, outcome prediction.Status, notes string) (*prediction.Prediction, error) {
	if !prediction.ValidOutcome(outcome) {
		return nil, fmt.Errorf("%q is not a resolution outcome: %w", outcome, domain.ErrValidation)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE predictions
		 SET status = $2, resolution_notes = $3, resolved_at = now()
		 WHERE id = $1 AND status IN ('active', 'flagged')
		 RETURNING `+predictionColumns,
		id, outcome, notes)

	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.predictionRefused(ctx, id, "resolve")
		}
		return nil, fmt.Errorf("resolve prediction %s: %w", id, err)
	}
	return &p, nil
}

// predictionRefused explains why a guarded prediction update matched
// nothing: the row is missing or already resolved.
func (s *Store) predictionRefused(ctx context.Context, id, verb string) error {
	var status prediction.Status
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM predictions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("prediction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("prediction %s status check: %w", id, err)
	}
	return fmt.Errorf("cannot %s prediction %s in status %s: %w", verb, id, status, domain.ErrInvalidTransition)
}

// FlagStalePredictions marks every active prediction past its target date
// as flagged. flagged_at records the first time the sweep noticed it.
func (s *Store) FlagStalePredictions(ctx context.Context, today time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions
		 SET status = 'flagged', flagged_at = COALESCE(flagged_at, now())
		 WHERE status = 'active' AND target_date < $1`,
		dateOnly(today))
	if err != nil {
		return 0, fmt.Errorf("flag stale predictions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
