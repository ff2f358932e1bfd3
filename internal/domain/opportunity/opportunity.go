// Package opportunity defines derived market-signal artifacts and the
// anti-repetition policy that decides which of them get surfaced again.
package opportunity

import (
	"fmt"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain"
)

// Status represents whether an opportunity is still in circulation.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Opportunity is a clustered, analyzed market signal. The featuring
// fields track how often it has already been surfaced downstream so
// selection can bias away from repeats.
type Opportunity struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	Thesis                string     `json:"thesis,omitempty"`
	Confidence            float64    `json:"confidence"`
	ClusterKey            string     `json:"cluster_key,omitempty"`
	Status                Status     `json:"status"`
	NewsletterAppearances int        `json:"newsletter_appearances"`
	LastFeaturedAt        *time.Time `json:"last_featured_at,omitempty"`
	FirstFeaturedAt       *time.Time `json:"first_featured_at,omitempty"`
	LastReviewedAt        *time.Time `json:"last_reviewed_at,omitempty"`
	ReviewCount           int        `json:"review_count"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Featured reports whether the opportunity has appeared in any previous
// publication.
func (o *Opportunity) Featured() bool {
	return o.NewsletterAppearances > 0
}

// CreateRequest holds the fields needed to record a new opportunity.
type CreateRequest struct {
	Title      string  `json:"title"`
	Thesis     string  `json:"thesis,omitempty"`
	Confidence float64 `json:"confidence"`
	ClusterKey string  `json:"cluster_key,omitempty"`
}

// Validate checks required fields and confidence bounds.
func (r *CreateRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1]: %w", domain.ErrValidation)
	}
	return nil
}
