package postgres

import (
	"context"
	"fmt"

	"github.com/signaldesk/signaldesk/internal/domain/opportunity"
)

const opportunityColumns = `id, title, thesis, confidence, cluster_key, status,
	newsletter_appearances, last_featured_at, first_featured_at,
	last_reviewed_at, review_count, created_at, updated_at`

func scanOpportunity(row scannable) (opportunity.Opportunity, error) {
	var o opportunity.Opportunity
	err := row.Scan(&o.ID, &o.Title, &o.Thesis, &o.Confidence, &o.ClusterKey,
		&o.Status, &o.NewsletterAppearances, &o.LastFeaturedAt, &o.FirstFeaturedAt,
		&o.LastReviewedAt, &o.ReviewCount, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return opportunity.Opportunity{}, err
	}
	return o, nil
}

func (s *Store) CreateOpportunity(ctx context.Context, req opportunity.CreateRequest) (*opportunity.Opportunity, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO opportunities (title, thesis, confidence, cluster_key)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+opportunityColumns,
		req.Title, req.Thesis, req.Confidence, req.ClusterKey)

	o, err := scanOpportunity(row)
	if err != nil {
		return nil, fmt.Errorf("create opportunity: %w", err)
	}
	return &o, nil
}

func (s *Store) GetOpportunity(ctx context.Context, id string) (*opportunity.Opportunity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE id = $1`, id)

	o, err := scanOpportunity(row)
	if err != nil {
		return nil, notFoundWrap(err, "get opportunity %s", id)
	}
	return &o, nil
}

// ListActiveOpportunities returns every active opportunity in featuring
// order: least-featured first, then highest conviction. The ranking
// policy reorders and caps in memory; this query only feeds it candidates.
func (s *Store) ListActiveOpportunities(ctx context.Context) ([]opportunity.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities
		 WHERE status = 'active'
		 ORDER BY newsletter_appearances ASC, confidence DESC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active opportunities: %w", err)
	}
	defer rows.Close()

	var os []opportunity.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		os = append(os, o)
	}
	return os, rows.Err()
}

// MarkOpportunitiesFeatured bumps the featuring counters for every given
// id in one statement. Called exactly once per published digest issue;
// the issue's stored content is the provenance for which ids were bumped.
func (s *Store) MarkOpportunitiesFeatured(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE opportunities
		 SET newsletter_appearances = newsletter_appearances + 1,
		     last_featured_at = now(),
		     first_featured_at = COALESCE(first_featured_at, now()),
		     updated_at = now()
		 WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark opportunities featured: %w", err)
	}
	return nil
}

// MarkOpportunityReviewed records an analyst pass over the opportunity.
func (s *Store) MarkOpportunityReviewed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities
		 SET review_count = review_count + 1, last_reviewed_at = now(), updated_at = now()
		 WHERE id = $1`, id)
	return execExpectOne(tag, err, "mark opportunity %s reviewed", id)
}

// UpdateOpportunityConfidence revises conviction and thesis after an
// analysis task.
func (s *Store) UpdateOpportunityConfidence(ctx context.Context, id string, confidence float64, thesis string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities
		 SET confidence = $2, thesis = $3, updated_at = now()
		 WHERE id = $1`, id, confidence, thesis)
	return execExpectOne(tag, err, "update opportunity %s confidence", id)
}

// ArchiveOpportunity takes an opportunity out of circulation. Archived
// rows never reach the featuring candidate list.
func (s *Store) ArchiveOpportunity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = 'archived', updated_at = now()
		 WHERE id = $1 AND status = 'active'`, id)
	return execExpectOne(tag, err, "archive opportunity %s", id)
}
