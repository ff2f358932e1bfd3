package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "signaldesk"

// StartTaskSpan starts a span covering one task execution attempt.
func StartTaskSpan(ctx context.Context, taskID, taskType, role string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
			attribute.String("task.role", role),
		),
	)
}

// StartReasoningSpan starts a span for a single reasoning call within
// a task attempt.
func StartReasoningSpan(ctx context.Context, taskType string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "reasoning",
		trace.WithAttributes(
			attribute.String("task.type", taskType),
			attribute.Int("task.attempt", attempt),
		),
	)
}

// StartDigestSpan starts a span for assembling or publishing a digest
// issue.
func StartDigestSpan(ctx context.Context, issueDate, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "digest",
		trace.WithAttributes(
			attribute.String("digest.issue_date", issueDate),
			attribute.String("digest.stage", stage),
		),
	)
}
