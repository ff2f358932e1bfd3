package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/signaldesk/signaldesk/internal/port/notifier"
)

// Alert sources raised by the pipeline.
const (
	AlertSourceBudgetStop = "budget.stop"
	AlertSourceTaskAlert  = "task.alert"
	AlertSourceTaskStuck  = "task.stuck"
)

// AlertService fans operator alerts out to every configured notifier.
// Alerts are advisory: a failed delivery is logged and never interrupts
// the pipeline step that raised it. A nil *AlertService drops alerts
// silently so callers do not need to guard.
type AlertService struct {
	notifiers      []notifier.Notifier
	enabledSources map[string]bool
}

// NewAlertService creates an AlertService over the given notifiers and
// the list of enabled alert sources (e.g. "budget.stop"). If sources is
// empty, every alert is delivered.
func NewAlertService(notifiers []notifier.Notifier, sources []string) *AlertService {
	enabled := make(map[string]bool, len(sources))
	for _, s := range sources {
		enabled[s] = true
	}
	return &AlertService{notifiers: notifiers, enabledSources: enabled}
}

// Deliver sends a notification to all registered notifiers. Errors are
// logged but do not interrupt delivery to the remaining notifiers.
func (s *AlertService) Deliver(ctx context.Context, n notifier.Notification) {
	if s == nil {
		return
	}
	if len(s.enabledSources) > 0 && !s.enabledSources[n.Source] {
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("alert delivery failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.Debug("alert delivered", "provider", provider.Name(), "title", n.Title)
	}
}

// TaskAlert delivers the operator alert a task requested in its output.
func (s *AlertService) TaskAlert(ctx context.Context, agentName, taskID, message string) {
	s.Deliver(ctx, notifier.Notification{
		Title:   fmt.Sprintf("Alert from %s", agentName),
		Message: fmt.Sprintf("task %s: %s", taskID, message),
		Level:   "warning",
		Source:  AlertSourceTaskAlert,
	})
}

// BudgetStop reports that a task was cut short by its budget ceilings.
func (s *AlertService) BudgetStop(ctx context.Context, agentName, taskID, reason string) {
	s.Deliver(ctx, notifier.Notification{
		Title:   fmt.Sprintf("Budget stop: %s", agentName),
		Message: fmt.Sprintf("task %s stopped early: %s", taskID, reason),
		Level:   "warning",
		Source:  AlertSourceBudgetStop,
	})
}

// StuckTasks reports the outcome of a stuck-task sweep. Nothing is sent
// when the sweep found no stuck tasks.
func (s *AlertService) StuckTasks(ctx context.Context, requeued, failed int) {
	if requeued == 0 && failed == 0 {
		return
	}
	s.Deliver(ctx, notifier.Notification{
		Title:   "Stuck tasks reclaimed",
		Message: fmt.Sprintf("%d requeued, %d failed after exhausting attempts", requeued, failed),
		Level:   "warning",
		Source:  AlertSourceTaskStuck,
	})
}

// NotifierCount returns the number of registered notifiers.
func (s *AlertService) NotifierCount() int {
	if s == nil {
		return 0
	}
	return len(s.notifiers)
}
