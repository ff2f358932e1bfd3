// Package prediction defines tracked, time-bound forecast claims and
// their resolution lifecycle.
package prediction

import (
	"fmt"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain"
)

// Status represents a prediction's lifecycle state.
type Status string

const (
	// StatusActive is a live forecast still inside its target window.
	StatusActive Status = "active"
	// StatusFlagged marks a prediction the staleness sweep noticed past
	// its target date. It must be resolved before it can appear anywhere.
	StatusFlagged Status = "flagged"

	// Terminal outcomes. Resolution is one-directional: once reached, a
	// prediction never reopens.
	StatusConfirmed        Status = "confirmed"
	StatusRefuted          Status = "refuted"
	StatusPartiallyCorrect Status = "partially_correct"
	StatusExpired          Status = "expired"
	StatusFaded            Status = "faded"
)

var terminal = map[Status]struct{}{
	StatusConfirmed:        {},
	StatusRefuted:          {},
	StatusPartiallyCorrect: {},
	StatusExpired:          {},
	StatusFaded:            {},
}

// Terminal reports whether the status is a resolution outcome.
func Terminal(s Status) bool {
	_, ok := terminal[s]
	return ok
}

// ValidOutcome reports whether s may be passed to a resolve operation.
func ValidOutcome(s Status) bool {
	return Terminal(s)
}

// Prediction is one forecast claim. current_score is always derived from
// the append-only tracking history, never edited directly.
type Prediction struct {
	ID                string     `json:"id"`
	PredictionText    string     `json:"prediction_text"`
	InitialConfidence float64    `json:"initial_confidence"`
	CurrentScore      float64    `json:"current_score"`
	Status            Status     `json:"status"`
	TargetDate        time.Time  `json:"target_date"`
	ResolutionNotes   string     `json:"resolution_notes,omitempty"`
	FlaggedAt         *time.Time `json:"flagged_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	LastTracked       *time.Time `json:"last_tracked,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Stale reports whether the prediction is past its target date while
// still unresolved. A stale prediction must never be republished as
// still-active; it has to be resolved first.
func (p *Prediction) Stale(now time.Time) bool {
	if Terminal(p.Status) {
		return false
	}
	return p.TargetDate.Before(dateOf(now))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TrackingEntry is one evaluation snapshot in a prediction's append-only
// history.
type TrackingEntry struct {
	ID             string    `json:"id"`
	PredictionID   string    `json:"prediction_id"`
	ObservedSignal string    `json:"observed_signal"`
	Score          float64   `json:"score"`
	Notes          string    `json:"notes,omitempty"`
	TrackedAt      time.Time `json:"tracked_at"`
}

// CreateRequest holds the fields needed to record a new prediction.
type CreateRequest struct {
	PredictionText    string    `json:"prediction_text"`
	InitialConfidence float64   `json:"initial_confidence"`
	TargetDate        time.Time `json:"target_date"`
}

// Validate checks required fields and confidence bounds.
func (r *CreateRequest) Validate() error {
	if r.PredictionText == "" {
		return fmt.Errorf("prediction_text is required: %w", domain.ErrValidation)
	}
	if r.InitialConfidence < 0 || r.InitialConfidence > 1 {
		return fmt.Errorf("initial_confidence must be in [0,1]: %w", domain.ErrValidation)
	}
	if r.TargetDate.IsZero() {
		return fmt.Errorf("target_date is required: %w", domain.ErrValidation)
	}
	return nil
}

// TrackRequest holds one tracking pass observation.
type TrackRequest struct {
	ObservedSignal string  `json:"observed_signal"`
	Score          float64 `json:"score"`
	Notes          string  `json:"notes,omitempty"`
}

// Validate checks the observation is present and in range.
func (r *TrackRequest) Validate() error {
	if r.ObservedSignal == "" {
		return fmt.Errorf("observed_signal is required: %w", domain.ErrValidation)
	}
	if r.Score < 0 || r.Score > 1 {
		return fmt.Errorf("score must be in [0,1]: %w", domain.ErrValidation)
	}
	return nil
}
