// Package item defines externally scraped records deduplicated by their
// natural key (source, source_id).
package item

import (
	"fmt"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain"
)

// Item is one ingested external record. Scrapers create and refresh it;
// this subsystem only ever upserts by natural key and flips processed
// when a task has consumed it. Nothing here deletes items.
type Item struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	SourceID   string            `json:"source_id"`
	SourceTier int               `json:"source_tier"`
	Title      string            `json:"title"`
	Body       string            `json:"body,omitempty"`
	Author     string            `json:"author,omitempty"`
	Score      int               `json:"score"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Processed  bool              `json:"processed"`
	ScrapedAt  time.Time         `json:"scraped_at"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// UpsertRequest carries the fields a scraper pushes. Repeat calls with the
// same (source, source_id) refresh the existing row and never duplicate.
type UpsertRequest struct {
	Source     string            `json:"source"`
	SourceID   string            `json:"source_id"`
	SourceTier int               `json:"source_tier,omitempty"`
	Title      string            `json:"title"`
	Body       string            `json:"body,omitempty"`
	Author     string            `json:"author,omitempty"`
	Score      int               `json:"score,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ScrapedAt  time.Time         `json:"scraped_at,omitempty"`
}

// Validate checks the natural key is present.
func (r *UpsertRequest) Validate() error {
	if r.Source == "" {
		return fmt.Errorf("source is required: %w", domain.ErrValidation)
	}
	if r.SourceID == "" {
		return fmt.Errorf("source_id is required: %w", domain.ErrValidation)
	}
	if r.Title == "" {
		return fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	return nil
}
