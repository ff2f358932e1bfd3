package service

import (
	"context"
	"fmt"
	"time"

	"github.com/signaldesk/signaldesk/internal/config"
	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/opportunity"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

// FreshnessService owns the anti-repetition policy for publications:
// which opportunities may be surfaced again, in what order, and when
// their featuring counters advance.
type FreshnessService struct {
	store database.Store
	cfg   config.Digest
}

// NewFreshnessService creates a new FreshnessService.
func NewFreshnessService(store database.Store, cfg config.Digest) *FreshnessService {
	return &FreshnessService{store: store, cfg: cfg}
}

// Record stores a new opportunity.
func (s *FreshnessService) Record(ctx context.Context, req opportunity.CreateRequest) (*opportunity.Opportunity, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.store.CreateOpportunity(ctx, req)
}

// Get returns an opportunity by ID.
func (s *FreshnessService) Get(ctx context.Context, id string) (*opportunity.Opportunity, error) {
	return s.store.GetOpportunity(ctx, id)
}

// ListActive returns every opportunity still in circulation.
func (s *FreshnessService) ListActive(ctx context.Context) ([]opportunity.Opportunity, error) {
	return s.store.ListActiveOpportunities(ctx)
}

// SelectForIssue picks the opportunities for the publication dated asOf.
// Anything featured within the configured exclusion window is removed
// outright; the rest rank least-featured first, then highest conviction,
// with at most the configured number of returning entries and an overall
// size cap. Selection has no side effects: counters advance at publish
// time, once per issue.
func (s *FreshnessService) SelectForIssue(ctx context.Context, asOf time.Time) ([]opportunity.Opportunity, error) {
	candidates, err := s.store.ListActiveOpportunities(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := asOf.AddDate(0, 0, -s.cfg.ExcludeFeaturedWithinDays)
	exclusions := make(map[string]struct{})
	for i := range candidates {
		if at := candidates[i].LastFeaturedAt; at != nil && at.After(cutoff) {
			exclusions[candidates[i].ID] = struct{}{}
		}
	}

	ranked := opportunity.RankForFeaturing(candidates, s.cfg.MaxReturning, exclusions)
	if len(ranked) > s.cfg.MaxOpportunities {
		ranked = ranked[:s.cfg.MaxOpportunities]
	}
	return ranked, nil
}

// MarkFeatured advances the featuring counters for every given id.
// Called once per published issue.
func (s *FreshnessService) MarkFeatured(ctx context.Context, ids []string) error {
	return s.store.MarkOpportunitiesFeatured(ctx, ids)
}

// MarkReviewed records an analyst pass over the opportunity.
func (s *FreshnessService) MarkReviewed(ctx context.Context, id string) error {
	return s.store.MarkOpportunityReviewed(ctx, id)
}

// Reassess revises an opportunity's conviction and thesis.
func (s *FreshnessService) Reassess(ctx context.Context, id string, confidence float64, thesis string) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1]: %w", domain.ErrValidation)
	}
	return s.store.UpdateOpportunityConfidence(ctx, id, confidence, thesis)
}

// Archive takes an opportunity out of circulation.
func (s *FreshnessService) Archive(ctx context.Context, id string) error {
	return s.store.ArchiveOpportunity(ctx, id)
}
