package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "signaldesk"

// Metrics holds the pipeline's metric instruments.
type Metrics struct {
	TasksEnqueued      metric.Int64Counter
	TasksClaimed       metric.Int64Counter
	TasksCompleted     metric.Int64Counter
	TasksFailed        metric.Int64Counter
	TaskRetries        metric.Int64Counter
	BudgetStops        metric.Int64Counter
	ReasoningCalls     metric.Int64Counter
	NegotiationRounds  metric.Int64Counter
	FlaggedPredictions metric.Int64Counter
	TaskDuration       metric.Float64Histogram
	TaskCost           metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksEnqueued, err = meter.Int64Counter("signaldesk.tasks.enqueued",
		metric.WithDescription("Number of tasks enqueued"))
	if err != nil {
		return nil, err
	}

	m.TasksClaimed, err = meter.Int64Counter("signaldesk.tasks.claimed",
		metric.WithDescription("Number of tasks claimed by workers"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("signaldesk.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("signaldesk.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.TaskRetries, err = meter.Int64Counter("signaldesk.tasks.retries",
		metric.WithDescription("Number of quality-driven task retries"))
	if err != nil {
		return nil, err
	}

	m.BudgetStops, err = meter.Int64Counter("signaldesk.budget.stops",
		metric.WithDescription("Number of tasks stopped by a budget ceiling"))
	if err != nil {
		return nil, err
	}

	m.ReasoningCalls, err = meter.Int64Counter("signaldesk.reasoning.calls",
		metric.WithDescription("Number of reasoning calls made"))
	if err != nil {
		return nil, err
	}

	m.NegotiationRounds, err = meter.Int64Counter("signaldesk.negotiation.rounds",
		metric.WithDescription("Number of negotiation rounds opened"))
	if err != nil {
		return nil, err
	}

	m.FlaggedPredictions, err = meter.Int64Counter("signaldesk.predictions.flagged",
		metric.WithDescription("Number of predictions flagged as stale"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("signaldesk.task.duration_seconds",
		metric.WithDescription("Task wall time in seconds"))
	if err != nil {
		return nil, err
	}

	m.TaskCost, err = meter.Float64Histogram("signaldesk.task.cost_usd",
		metric.WithDescription("Estimated task cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
