package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/signaldesk/signaldesk/internal/config"
	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/digest"
	"github.com/signaldesk/signaldesk/internal/domain/prediction"
	"github.com/signaldesk/signaldesk/internal/port/database"
	"github.com/signaldesk/signaldesk/internal/port/messagequeue"
)

// outcomeWindowDays is how far back the outcomes section reaches for
// recently resolved predictions.
const outcomeWindowDays = 7

// DigestService assembles and publishes issues. Assembly is pure
// selection; all side effects of featuring happen at publish time.
type DigestService struct {
	store     database.Store
	freshness *FreshnessService
	queue     messagequeue.Queue
	cfg       config.Digest
}

// NewDigestService creates a new DigestService.
func NewDigestService(store database.Store, freshness *FreshnessService, queue messagequeue.Queue, cfg config.Digest) *DigestService {
	return &DigestService{store: store, freshness: freshness, queue: queue, cfg: cfg}
}

// Assemble builds the draft issue for the given date from ranked
// opportunities, live predictions, and recent outcomes. Sections with
// too little material are omitted outright; an issue with no sections at
// all is refused. A second assembly for the same date is a conflict.
func (s *DigestService) Assemble(ctx context.Context, issueDate time.Time) (*digest.Issue, error) {
	var sections []digest.Section

	opps, err := s.freshness.SelectForIssue(ctx, issueDate)
	if err != nil {
		return nil, fmt.Errorf("select opportunities: %w", err)
	}
	if len(opps) >= s.cfg.MinSectionEntries {
		entries := make([]digest.Entry, 0, len(opps))
		for i := range opps {
			entries = append(entries, digest.Entry{
				Kind:    digest.KindOpportunity,
				RefID:   opps[i].ID,
				Title:   opps[i].Title,
				Summary: opps[i].Thesis,
				Score:   opps[i].Confidence,
			})
		}
		sections = append(sections, digest.Section{Name: "opportunities", Entries: entries})
	}

	preds, err := s.store.ListPublishablePredictions(ctx, issueDate)
	if err != nil {
		return nil, fmt.Errorf("select predictions: %w", err)
	}
	if len(preds) >= s.cfg.MinSectionEntries {
		entries := make([]digest.Entry, 0, len(preds))
		for i := range preds {
			entries = append(entries, digest.Entry{
				Kind:  digest.KindPrediction,
				RefID: preds[i].ID,
				Title: preds[i].PredictionText,
				Score: preds[i].CurrentScore,
			})
		}
		sections = append(sections, digest.Section{Name: "predictions", Entries: entries})
	}

	outcomes, err := s.recentOutcomes(ctx, issueDate)
	if err != nil {
		return nil, fmt.Errorf("select outcomes: %w", err)
	}
	if len(outcomes) >= s.cfg.MinSectionEntries {
		sections = append(sections, digest.Section{Name: "outcomes", Entries: outcomes})
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("not enough material for an issue on %s: %w",
			issueDate.Format("2006-01-02"), domain.ErrValidation)
	}

	return s.store.CreateDigestIssue(ctx, issueDate, digest.Content{Sections: sections})
}

// recentOutcomes collects predictions resolved inside the outcome window
// before the issue date. Expired and faded resolutions are administrative
// and not worth reporting.
func (s *DigestService) recentOutcomes(ctx context.Context, issueDate time.Time) ([]digest.Entry, error) {
	cutoff := issueDate.AddDate(0, 0, -outcomeWindowDays)
	var entries []digest.Entry
	for _, status := range []prediction.Status{
		prediction.StatusConfirmed,
		prediction.StatusRefuted,
		prediction.StatusPartiallyCorrect,
	} {
		preds, err := s.store.ListPredictions(ctx, database.PredictionFilter{Status: status})
		if err != nil {
			return nil, err
		}
		for i := range preds {
			p := &preds[i]
			if p.ResolvedAt == nil || p.ResolvedAt.Before(cutoff) {
				continue
			}
			summary := string(p.Status)
			if p.ResolutionNotes != "" {
				summary = summary + ": " + p.ResolutionNotes
			}
			entries = append(entries, digest.Entry{
				Kind:    digest.KindOutcome,
				RefID:   p.ID,
				Title:   p.PredictionText,
				Summary: summary,
				Score:   p.CurrentScore,
			})
		}
	}
	return entries, nil
}

// Get returns an issue by ID.
func (s *DigestService) Get(ctx context.Context, id string) (*digest.Issue, error) {
	return s.store.GetDigestIssue(ctx, id)
}

// GetByDate returns the issue for the given date.
func (s *DigestService) GetByDate(ctx context.Context, issueDate time.Time) (*digest.Issue, error) {
	return s.store.GetDigestIssueByDate(ctx, issueDate)
}

// Publish moves a draft issue to published. Publication is refused while
// the issue references any unresolved prediction past its target date.
// On success the featuring counters of every referenced opportunity
// advance exactly once.
func (s *DigestService) Publish(ctx context.Context, id string) (*digest.Issue, error) {
	issue, err := s.store.GetDigestIssue(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.checkStaleRefs(ctx, issue); err != nil {
		return nil, err
	}

	published, err := s.store.PublishDigestIssue(ctx, id)
	if err != nil {
		return nil, err
	}

	oppRefs := published.Content.RefsOfKind(digest.KindOpportunity)
	if err := s.freshness.MarkFeatured(ctx, oppRefs); err != nil {
		slog.Error("issue published but featuring counters were not advanced; these opportunities may be re-featured",
			"issue_id", published.ID, "opportunity_ids", oppRefs, "error", err)
	}

	s.publishIssueEvent(ctx, published)
	return published, nil
}

// checkStaleRefs refuses publication while any referenced prediction is
// unresolved past its target date.
func (s *DigestService) checkStaleRefs(ctx context.Context, issue *digest.Issue) error {
	stale, err := s.store.ListStalePredictions(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("list stale predictions: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	staleSet := make(map[string]struct{}, len(stale))
	for i := range stale {
		staleSet[stale[i].ID] = struct{}{}
	}

	refs := issue.Content.RefsOfKind(digest.KindPrediction)
	refs = append(refs, issue.Content.RefsOfKind(digest.KindOutcome)...)
	for _, ref := range refs {
		if _, ok := staleSet[ref]; ok {
			return fmt.Errorf("issue %s references prediction %s: %w", issue.ID, ref, domain.ErrStalePrediction)
		}
	}
	return nil
}

func (s *DigestService) publishIssueEvent(ctx context.Context, issue *digest.Issue) {
	payload := messagequeue.DigestPublishedPayload{
		IssueID:       issue.ID,
		IssueDate:     issue.IssueDate,
		Opportunities: issue.Content.RefsOfKind(digest.KindOpportunity),
		Predictions:   issue.Content.RefsOfKind(digest.KindPrediction),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal digest published event", "issue_id", issue.ID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectDigestPublished, data); err != nil {
		slog.Error("failed to publish digest published event", "issue_id", issue.ID, "error", err)
	}
}
