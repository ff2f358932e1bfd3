package service

import (
	"context"
	"time"

	"github.com/signaldesk/signaldesk/internal/config"
	"github.com/signaldesk/signaldesk/internal/domain/budget"
	"github.com/signaldesk/signaldesk/internal/port/database"
)

// GovernorService owns budget policy: the default per-task ceilings, the
// cost model, and the daily usage ledger. The ledger records what
// happened; per-task ceilings are the only enforcement mechanism.
type GovernorService struct {
	store          database.Store
	defaults       budget.Limits
	costPerLLMCall float64
}

// NewGovernorService creates a new GovernorService.
func NewGovernorService(store database.Store, cfg config.Governor) *GovernorService {
	return &GovernorService{
		store:          store,
		defaults:       cfg.DefaultBudget,
		costPerLLMCall: cfg.CostPerLLMCall,
	}
}

// Defaults returns the default per-task ceilings.
func (s *GovernorService) Defaults() budget.Limits {
	return s.defaults
}

// EffectiveLimits resolves a task's ceilings: non-zero override fields
// win, the rest fall back to the defaults.
func (s *GovernorService) EffectiveLimits(override budget.Limits) budget.Limits {
	return budget.Merge(s.defaults, override)
}

// CostEstimate prices one execution's usage under the configured cost
// model.
func (s *GovernorService) CostEstimate(u budget.Usage) float64 {
	return float64(u.LLMCallsUsed) * s.costPerLLMCall
}

// RecordUsage folds one execution's consumption into the agent's ledger
// row for today. Day rollover starts a fresh row on the next call.
func (s *GovernorService) RecordUsage(ctx context.Context, agent string, u budget.Usage, alerts int) error {
	delta := budget.DeltaFrom(u, alerts, s.CostEstimate(u))
	return s.store.AddDailyUsage(ctx, agent, time.Now().UTC(), delta)
}

// UsageFor returns one agent's ledger row for the given day.
func (s *GovernorService) UsageFor(ctx context.Context, agent string, day time.Time) (*budget.DailyUsage, error) {
	return s.store.GetDailyUsage(ctx, agent, day)
}

// UsageOn returns every agent's ledger row for the given day.
func (s *GovernorService) UsageOn(ctx context.Context, day time.Time) ([]budget.DailyUsage, error) {
	return s.store.ListDailyUsage(ctx, day)
}
