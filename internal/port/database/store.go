// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/signaldesk/signaldesk/internal/domain/budget"
	"github.com/signaldesk/signaldesk/internal/domain/digest"
	"github.com/signaldesk/signaldesk/internal/domain/item"
	"github.com/signaldesk/signaldesk/internal/domain/negotiation"
	"github.com/signaldesk/signaldesk/internal/domain/opportunity"
	"github.com/signaldesk/signaldesk/internal/domain/prediction"
	"github.com/signaldesk/signaldesk/internal/domain/task"
)

// TaskFilter narrows task list queries. Zero values mean "any".
type TaskFilter struct {
	Status     task.Status
	Type       task.Type
	AssignedTo task.Role
	CreatedBy  string
	Limit      int
	Offset     int
}

// ItemFilter narrows ingest item list queries.
type ItemFilter struct {
	Source      string
	Unprocessed bool
	Limit       int
	Offset      int
}

// PredictionFilter narrows prediction list queries.
type PredictionFilter struct {
	Status       prediction.Status
	TargetBefore time.Time
	TargetAfter  time.Time
	Limit        int
	Offset       int
}

// Store is the port interface for all durable state. Correctness of the
// queue rests entirely on the store's claim semantics: no caller-side
// locking exists anywhere above this interface.
type Store interface {
	// Ingest items
	UpsertItem(ctx context.Context, req item.UpsertRequest) (*item.Item, error)
	GetItem(ctx context.Context, id string) (*item.Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]item.Item, error)
	MarkItemsProcessed(ctx context.Context, ids []string) (int, error)

	// Task queue
	EnqueueTask(ctx context.Context, req task.EnqueueRequest) (*task.Task, error)
	ClaimTasks(ctx context.Context, assignedTo task.Role, limit int) ([]task.Task, error)
	CompleteTask(ctx context.Context, id string, output *task.Output) error
	FailTask(ctx context.Context, id string, errMsg string) error
	ReclaimStuckTasks(ctx context.Context, olderThan time.Duration) (requeued, failed int, err error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]task.Task, error)
	CountPendingTasks(ctx context.Context, assignedTo task.Role) (int, error)

	// Daily usage ledger
	AddDailyUsage(ctx context.Context, agent string, day time.Time, delta budget.UsageDelta) error
	GetDailyUsage(ctx context.Context, agent string, day time.Time) (*budget.DailyUsage, error)
	ListDailyUsage(ctx context.Context, day time.Time) ([]budget.DailyUsage, error)

	// Negotiations. Open and Escalate enqueue the response task and write
	// the negotiation row in one transaction, so a negotiation never
	// exists without the task that will answer it.
	OpenNegotiation(ctx context.Context, req negotiation.OpenRequest, responseTask task.EnqueueRequest) (*negotiation.Negotiation, *task.Task, error)
	GetNegotiation(ctx context.Context, id string) (*negotiation.Negotiation, error)
	CountNegotiationsForTask(ctx context.Context, requestTaskID string) (int, error)
	RecordNegotiationResponse(ctx context.Context, id string, criteriaMet bool, summary string) (*negotiation.Negotiation, error)
	EscalateNegotiation(ctx context.Context, id string, responseTask task.EnqueueRequest) (*negotiation.Negotiation, *task.Task, error)
	ListNegotiationsAwaiting(ctx context.Context, requestingAgent string) ([]negotiation.Negotiation, error)
	MarkNegotiationsConsumed(ctx context.Context, ids []string) (int, error)
	TimeOutNegotiations(ctx context.Context, now time.Time) (int, error)

	// Predictions
	CreatePrediction(ctx context.Context, req prediction.CreateRequest) (*prediction.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*prediction.Prediction, error)
	ListPredictions(ctx context.Context, filter PredictionFilter) ([]prediction.Prediction, error)
	ListPublishablePredictions(ctx context.Context, today time.Time) ([]prediction.Prediction, error)
	ListStalePredictions(ctx context.Context, today time.Time) ([]prediction.Prediction, error)
	AppendTracking(ctx context.Context, id string, entry prediction.TrackingEntry, newScore float64) (*prediction.Prediction, error)
	ListTracking(ctx context.Context, predictionID string) ([]prediction.TrackingEntry, error)
	ResolvePrediction(ctx context.Context, id string, outcome prediction.Status, notes string) (*prediction.Prediction, error)
	FlagStalePredictions(ctx context.Context, today time.Time) (int, error)

	// Opportunities
	CreateOpportunity(ctx context.Context, req opportunity.CreateRequest) (*opportunity.Opportunity, error)
	GetOpportunity(ctx context.Context, id string) (*opportunity.Opportunity, error)
	ListActiveOpportunities(ctx context.Context) ([]opportunity.Opportunity, error)
	MarkOpportunitiesFeatured(ctx context.Context, ids []string) error
	MarkOpportunityReviewed(ctx context.Context, id string) error
	UpdateOpportunityConfidence(ctx context.Context, id string, confidence float64, thesis string) error
	ArchiveOpportunity(ctx context.Context, id string) error

	// Digest issues
	CreateDigestIssue(ctx context.Context, issueDate time.Time, content digest.Content) (*digest.Issue, error)
	GetDigestIssue(ctx context.Context, id string) (*digest.Issue, error)
	GetDigestIssueByDate(ctx context.Context, issueDate time.Time) (*digest.Issue, error)
	PublishDigestIssue(ctx context.Context, id string) (*digest.Issue, error)
}
