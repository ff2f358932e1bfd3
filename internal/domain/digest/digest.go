// Package digest defines assembled publication issues. An issue is the
// downstream artifact that consumes ranked opportunities and fresh
// predictions; sections with insufficient material are omitted outright
// rather than padded.
package digest

import "time"

// Status represents an issue's publication state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Entry kinds within a section.
const (
	KindOpportunity = "opportunity"
	KindPrediction  = "prediction"
	KindOutcome     = "outcome"
)

// Issue is one assembled digest. Exactly one issue exists per date; the
// content records which artifacts it includes so featuring counters can
// be incremented exactly once when the issue publishes.
type Issue struct {
	ID          string     `json:"id"`
	IssueDate   time.Time  `json:"issue_date"`
	Status      Status     `json:"status"`
	Content     Content    `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Content is the issue body, stored as JSON.
type Content struct {
	Sections []Section `json:"sections"`
}

// Section is one named block of entries.
type Section struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// Entry is one referenced artifact inside a section.
type Entry struct {
	Kind    string  `json:"kind"`
	RefID   string  `json:"ref_id,omitempty"`
	Title   string  `json:"title"`
	Summary string  `json:"summary,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// RefsOfKind returns the ids of every entry of the given kind across all
// sections, in order of appearance.
func (c Content) RefsOfKind(kind string) []string {
	var ids []string
	for _, s := range c.Sections {
		for _, e := range s.Entries {
			if e.Kind == kind && e.RefID != "" {
				ids = append(ids, e.RefID)
			}
		}
	}
	return ids
}
