// Package negotiation defines the bounded request/response handshake two
// worker roles use to exchange help without blocking on each other.
package negotiation

import (
	"fmt"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain"
)

// Status represents where a negotiation sits in its lifecycle.
type Status string

const (
	// StatusOpen means the request is out and unanswered, or answered
	// without the quality criteria being met.
	StatusOpen Status = "open"
	// StatusFollowUp means the requester escalated with another round
	// before the deadline.
	StatusFollowUp Status = "follow_up"
	// StatusClosed means the criteria were met or the responder finalized.
	StatusClosed Status = "closed"
	// StatusTimedOut means needed_by passed without resolution. Terminal;
	// the requester proceeds without the enrichment.
	StatusTimedOut Status = "timed_out"
)

var validTransitions = map[Status]map[Status]struct{}{
	StatusOpen:     {StatusFollowUp: {}, StatusClosed: {}, StatusTimedOut: {}},
	StatusFollowUp: {StatusOpen: {}, StatusClosed: {}, StatusTimedOut: {}},
	StatusClosed:   {},
	StatusTimedOut: {},
}

// ValidTransition reports whether the lifecycle permits moving from one
// status to another. closed and timed_out are terminal.
func ValidTransition(from, to Status) bool {
	_, ok := validTransitions[from][to]
	return ok
}

// Terminal reports whether a negotiation in this status can still change.
func Terminal(s Status) bool {
	return s == StatusClosed || s == StatusTimedOut
}

// Negotiation is one request/response exchange. It references exactly one
// originating request task and, once answered, one response task. round
// increments each follow-up cycle.
type Negotiation struct {
	ID              string     `json:"id"`
	RequestingAgent string     `json:"requesting_agent"`
	RespondingAgent string     `json:"responding_agent"`
	RequestTaskID   string     `json:"request_task_id"`
	ResponseTaskID  string     `json:"response_task_id,omitempty"`
	RequestSummary  string     `json:"request_summary"`
	QualityCriteria string     `json:"quality_criteria"`
	NeededBy        time.Time  `json:"needed_by"`
	Status          Status     `json:"status"`
	CriteriaMet     *bool      `json:"criteria_met,omitempty"`
	ResponseSummary string     `json:"response_summary,omitempty"`
	Round           int        `json:"round"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty"`
}

// Answered reports whether the responder has recorded anything yet.
func (n *Negotiation) Answered() bool {
	return n.CriteriaMet != nil
}

// OpenRequest holds the fields needed to open a negotiation.
type OpenRequest struct {
	RequestingAgent string    `json:"requesting_agent"`
	RespondingAgent string    `json:"responding_agent"`
	RequestTaskID   string    `json:"request_task_id"`
	RequestSummary  string    `json:"request_summary"`
	QualityCriteria string    `json:"quality_criteria"`
	NeededBy        time.Time `json:"needed_by"`
}

// Validate checks that an OpenRequest has all required fields and a
// future deadline.
func (r *OpenRequest) Validate() error {
	if r.RequestingAgent == "" {
		return fmt.Errorf("requesting_agent is required: %w", domain.ErrValidation)
	}
	if r.RespondingAgent == "" {
		return fmt.Errorf("responding_agent is required: %w", domain.ErrValidation)
	}
	if r.RequestingAgent == r.RespondingAgent {
		return fmt.Errorf("an agent cannot negotiate with itself: %w", domain.ErrValidation)
	}
	if r.RequestTaskID == "" {
		return fmt.Errorf("request_task_id is required: %w", domain.ErrValidation)
	}
	if r.RequestSummary == "" {
		return fmt.Errorf("request_summary is required: %w", domain.ErrValidation)
	}
	if r.NeededBy.IsZero() {
		return fmt.Errorf("needed_by is required: %w", domain.ErrValidation)
	}
	return nil
}

// Expired reports whether the deadline has passed at the given time.
func (n *Negotiation) Expired(now time.Time) bool {
	return now.After(n.NeededBy)
}
