package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain/prediction"
	"github.com/signaldesk/signaldesk/internal/port/database"
	"github.com/signaldesk/signaldesk/internal/port/messagequeue"
)

// PredictionService handles the forecast ledger: creation, tracking
// passes, resolution, and the staleness sweep.
type PredictionService struct {
	store  database.Store
	queue  messagequeue.Queue
	scorer prediction.Scorer
}

// NewPredictionService creates a new PredictionService. A nil scorer
// falls back to the default blend-and-decay scorer.
func NewPredictionService(store database.Store, queue messagequeue.Queue, scorer prediction.Scorer) *PredictionService {
	if scorer == nil {
		scorer = prediction.DefaultScorer
	}
	return &PredictionService{store: store, queue: queue, scorer: scorer}
}

// Create records a new active forecast.
func (s *PredictionService) Create(ctx context.Context, req prediction.CreateRequest) (*prediction.Prediction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.store.CreatePrediction(ctx, req)
}

// Get returns a prediction by ID.
func (s *PredictionService) Get(ctx context.Context, id string) (*prediction.Prediction, error) {
	return s.store.GetPrediction(ctx, id)
}

// List returns predictions matching the filter.
func (s *PredictionService) List(ctx context.Context, filter database.PredictionFilter) ([]prediction.Prediction, error) {
	return s.store.ListPredictions(ctx, filter)
}

// History returns a prediction's full tracking history, oldest first.
func (s *PredictionService) History(ctx context.Context, id string) ([]prediction.TrackingEntry, error) {
	return s.store.ListTracking(ctx, id)
}

// Track appends one evaluation snapshot and recomputes the current score
// from it. The history is append-only; the score is always derived,
// never set directly.
func (s *PredictionService) Track(ctx context.Context, id string, req prediction.TrackRequest) (*prediction.Prediction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.store.GetPrediction(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	newScore := s.scorer(p, req.Score, now)
	entry := prediction.TrackingEntry{
		ObservedSignal: req.ObservedSignal,
		Score:          req.Score,
		Notes:          req.Notes,
		TrackedAt:      now,
	}
	return s.store.AppendTracking(ctx, id, entry, newScore)
}

// Resolve moves an unresolved prediction to a terminal outcome.
func (s *PredictionService) Resolve(ctx context.Context, id string, outcome prediction.Status, notes string) (*prediction.Prediction, error) {
	return s.store.ResolvePrediction(ctx, id, outcome, notes)
}

// Publishable returns the predictions a publication may include as live
// forecasts: active ones still inside their target window.
func (s *PredictionService) Publishable(ctx context.Context, today time.Time) ([]prediction.Prediction, error) {
	return s.store.ListPublishablePredictions(ctx, today)
}

// Stale returns unresolved predictions past their target date.
func (s *PredictionService) Stale(ctx context.Context, today time.Time) ([]prediction.Prediction, error) {
	return s.store.ListStalePredictions(ctx, today)
}

// SweepStale flags every active prediction past its target date and
// announces each one. Flagged predictions block publication until
// resolved.
func (s *PredictionService) SweepStale(ctx context.Context, today time.Time) (int, error) {
	candidates, err := s.store.ListPredictions(ctx, database.PredictionFilter{
		Status:       prediction.StatusActive,
		TargetBefore: today,
	})
	if err != nil {
		return 0, err
	}

	flagged, err := s.store.FlagStalePredictions(ctx, today)
	if err != nil {
		return 0, err
	}

	for i := range candidates {
		s.publishFlagged(ctx, &candidates[i])
	}
	return flagged, nil
}

func (s *PredictionService) publishFlagged(ctx context.Context, p *prediction.Prediction) {
	payload := messagequeue.PredictionFlaggedPayload{
		PredictionID: p.ID,
		TargetDate:   p.TargetDate,
		CurrentScore: p.CurrentScore,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal prediction flagged event", "prediction_id", p.ID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectPredictionFlagged, data); err != nil {
		slog.Error("failed to publish prediction flagged event", "prediction_id", p.ID, "error", err)
	}
}
