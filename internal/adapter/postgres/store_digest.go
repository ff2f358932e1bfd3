package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/digest"
)

const digestColumns = `id, issue_date, status, content, created_at, published_at`

func scanDigestIssue(row scannable) (digest.Issue, error) {
	var (
		iss         digest.Issue
		contentJSON []byte
	)
	err := row.Scan(&iss.ID, &iss.IssueDate, &iss.Status, &contentJSON,
		&iss.CreatedAt, &iss.PublishedAt)
	if err != nil {
		return digest.Issue{}, err
	}
	if len(contentJSON) > 0 {
		if err := json.Unmarshal(contentJSON, &iss.Content); err != nil {
			return digest.Issue{}, fmt.Errorf("unmarshal digest content: %w", err)
		}
	}
	return iss, nil
}

// CreateDigestIssue stores an assembled draft. The unique issue_date
// constraint keeps a second assembly for the same day from succeeding;
// callers see ErrConflict and should fetch the existing issue instead.
func (s *Store) CreateDigestIssue(ctx context.Context, issueDate time.Time, content digest.Content) (*digest.Issue, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal digest content: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO digest_issues (issue_date, content)
		 VALUES ($1, $2)
		 ON CONFLICT (issue_date) DO NOTHING
		 RETURNING `+digestColumns,
		dateOnly(issueDate), contentJSON)

	iss, err := scanDigestIssue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("digest issue for %s already exists: %w",
				dateOnly(issueDate).Format("2006-01-02"), domain.ErrConflict)
		}
		return nil, fmt.Errorf("create digest issue: %w", err)
	}
	return &iss, nil
}

func (s *Store) GetDigestIssue(ctx context.Context, id string) (*digest.Issue, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+digestColumns+` FROM digest_issues WHERE id = $1`, id)

	iss, err := scanDigestIssue(row)
	if err != nil {
		return nil, notFoundWrap(err, "get digest issue %s", id)
	}
	return &iss, nil
}

func (s *Store) GetDigestIssueByDate(ctx context.Context, issueDate time.Time) (*digest.Issue, error) {
	date := dateOnly(issueDate)
	row := s.pool.QueryRow(ctx,
		`SELECT `+digestColumns+` FROM digest_issues WHERE issue_date = $1`, date)

	iss, err := scanDigestIssue(row)
	if err != nil {
		return nil, notFoundWrap(err, "get digest issue for %s", date.Format("2006-01-02"))
	}
	return &iss, nil
}

// PublishDigestIssue moves a draft to published. The status guard makes
// publication exactly-once: a repeat publish is refused, so featuring
// counters keyed to this event can never double-increment.
func (s *Store) PublishDigestIssue(ctx context.Context, id string) (*digest.Issue, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE digest_issues
		 SET status = 'published', published_at = now()
		 WHERE id = $1 AND status = 'draft'
		 RETURNING `+digestColumns,
		id)

	iss, err := scanDigestIssue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.digestRefused(ctx, id)
		}
		return nil, fmt.Errorf("publish digest issue %s: %w", id, err)
	}
	return &iss, nil
}

func (s *Store) digestRefused(ctx context.Context, id string) error {
	var status digest.Status
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM digest_issues WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("digest issue %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("digest issue %s status check: %w", id, err)
	}
	return fmt.Errorf("digest issue %s is already %s: %w", id, status, domain.ErrInvalidTransition)
}
