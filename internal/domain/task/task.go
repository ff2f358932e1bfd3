// Package task defines the durable queue Task entity and its wire payloads.
package task

import (
	"fmt"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Type names a kind of work. The set is closed: the worker executor
// switches exhaustively over it, so adding a type means teaching the
// executor how to run it.
type Type string

const (
	TypeExtractProblems      Type = "extract_problems"
	TypeClusterOpportunities Type = "cluster_opportunities"
	TypeAnalyzeOpportunity   Type = "analyze_opportunity"
	TypeTrackPredictions     Type = "track_predictions"
	TypeResearchRequest      Type = "research_request"
	TypeWriteDigest          Type = "write_digest"
)

// Role names a worker role that tasks can be assigned to.
type Role string

const (
	RoleProcessor  Role = "processor"
	RoleAnalyst    Role = "analyst"
	RoleResearch   Role = "research"
	RoleNewsletter Role = "newsletter"
)

// DefaultPriority is the mid-range priority applied when an enqueue
// request leaves priority unset. Lower values are more urgent.
const DefaultPriority = 5

// DefaultMaxAttempts bounds how many times the reclaim sweep may return a
// stuck task to pending before giving up on it.
const DefaultMaxAttempts = 3

var knownTypes = map[Type]struct{}{
	TypeExtractProblems:      {},
	TypeClusterOpportunities: {},
	TypeAnalyzeOpportunity:   {},
	TypeTrackPredictions:     {},
	TypeResearchRequest:      {},
	TypeWriteDigest:          {},
}

var knownRoles = map[Role]struct{}{
	RoleProcessor:  {},
	RoleAnalyst:    {},
	RoleResearch:   {},
	RoleNewsletter: {},
}

// KnownType reports whether t names a task type the executor can run.
func KnownType(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// KnownRole reports whether r names a worker role tasks can be assigned to.
func KnownRole(r Role) bool {
	_, ok := knownRoles[r]
	return ok
}

// validTransitions is the task lifecycle. A claim is the only way from
// pending to in_progress, and completed/failed are terminal.
var validTransitions = map[Status]map[Status]struct{}{
	StatusPending:    {StatusInProgress: {}},
	StatusInProgress: {StatusCompleted: {}, StatusFailed: {}, StatusPending: {}},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// ValidTransition reports whether the lifecycle permits moving from one
// status to another. in_progress back to pending is the reclaim path for
// tasks whose worker died.
func ValidTransition(from, to Status) bool {
	_, ok := validTransitions[from][to]
	return ok
}

// Task represents a unit of work assigned to a worker role. Workers hold
// no reference to a task beyond its id while processing; all state lives
// in the store.
type Task struct {
	ID           string     `json:"id"`
	Type         Type       `json:"task_type"`
	AssignedTo   Role       `json:"assigned_to"`
	CreatedBy    string     `json:"created_by"`
	Priority     int        `json:"priority"`
	Status       Status     `json:"status"`
	Input        Input      `json:"input_data"`
	Output       *Output    `json:"output_data,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// EnqueueRequest holds the fields needed to enqueue a new task.
type EnqueueRequest struct {
	Type       Type   `json:"task_type"`
	AssignedTo Role   `json:"assigned_to"`
	CreatedBy  string `json:"created_by"`
	Priority   int    `json:"priority,omitempty"`
	Input      Input  `json:"input_data"`
}

// Validate checks that an EnqueueRequest names a known type and role.
func (r *EnqueueRequest) Validate() error {
	if !KnownType(r.Type) {
		return fmt.Errorf("unknown task type %q: %w", r.Type, domain.ErrValidation)
	}
	if !KnownRole(r.AssignedTo) {
		return fmt.Errorf("unknown worker role %q: %w", r.AssignedTo, domain.ErrValidation)
	}
	if r.CreatedBy == "" {
		return fmt.Errorf("created_by is required: %w", domain.ErrValidation)
	}
	if r.Priority < 0 {
		return fmt.Errorf("priority must not be negative: %w", domain.ErrValidation)
	}
	return nil
}
