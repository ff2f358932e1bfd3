package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/signaldesk/signaldesk/internal/adapter/otel"
	"github.com/signaldesk/signaldesk/internal/adapter/ws"
	"github.com/signaldesk/signaldesk/internal/config"
	"github.com/signaldesk/signaldesk/internal/domain/prediction"
	"github.com/signaldesk/signaldesk/internal/port/broadcast"
	"github.com/signaldesk/signaldesk/internal/port/database"
	"github.com/signaldesk/signaldesk/internal/service"
)

// Sweeper runs the periodic maintenance passes: returning stuck tasks to
// the queue, expiring negotiations past their deadline, and flagging
// predictions whose target date arrived without a resolution. Each pass
// is independent; one failing never starves the others.
type Sweeper struct {
	queue        *service.QueueService
	negotiations *service.NegotiationService
	predictions  *service.PredictionService
	interval     time.Duration
	stuckAfter   time.Duration

	alerts  *service.AlertService
	metrics *otel.Metrics
	events  broadcast.Broadcaster

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a Sweeper with the given maintenance configuration.
func NewSweeper(queue *service.QueueService, negotiations *service.NegotiationService, predictions *service.PredictionService, cfg config.Sweep) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	stuckAfter := cfg.StuckTaskAfter
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	return &Sweeper{
		queue:        queue,
		negotiations: negotiations,
		predictions:  predictions,
		interval:     interval,
		stuckAfter:   stuckAfter,
		stop:         make(chan struct{}),
	}
}

// SetAlerts wires operator alert delivery. Optional.
func (s *Sweeper) SetAlerts(a *service.AlertService) { s.alerts = a }

// SetMetrics wires metric instruments. Optional.
func (s *Sweeper) SetMetrics(m *otel.Metrics) { s.metrics = m }

// SetEvents wires dashboard event broadcasting. Optional.
func (s *Sweeper) SetEvents(b broadcast.Broadcaster) { s.events = b }

// Start launches the sweep loop. The first pass runs immediately so a
// restart does not leave stuck work waiting out a full interval.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Sweep(ctx)
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("maintenance sweep started", "interval", s.interval, "stuck_after", s.stuckAfter)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
	slog.Info("maintenance sweep stopped")
}

// Sweep runs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()

	s.sweepStuckTasks(ctx)
	s.sweepNegotiations(ctx, now)
	s.sweepPredictions(ctx, now)
}

func (s *Sweeper) sweepStuckTasks(ctx context.Context) {
	requeued, failed, err := s.queue.Reclaim(ctx, s.stuckAfter)
	if err != nil {
		slog.Error("stuck task reclaim failed", "error", err)
		return
	}
	if requeued == 0 && failed == 0 {
		return
	}

	slog.Warn("stuck tasks reclaimed", "requeued", requeued, "failed", failed)
	s.alerts.StuckTasks(ctx, requeued, failed)
	if s.metrics != nil && failed > 0 {
		s.metrics.TasksFailed.Add(ctx, int64(failed), metric.WithAttributes(
			attribute.String("reason", "reclaimed"),
		))
	}
}

func (s *Sweeper) sweepNegotiations(ctx context.Context, now time.Time) {
	expired, err := s.negotiations.SweepTimeouts(ctx, now)
	if err != nil {
		slog.Error("negotiation timeout sweep failed", "error", err)
		return
	}
	if expired > 0 {
		slog.Info("negotiations timed out", "count", expired)
	}
}

func (s *Sweeper) sweepPredictions(ctx context.Context, now time.Time) {
	// List before flagging so the dashboard events carry details the
	// aggregate count cannot.
	overdue, err := s.predictions.List(ctx, database.PredictionFilter{
		Status:       prediction.StatusActive,
		TargetBefore: now,
	})
	if err != nil {
		slog.Error("stale prediction listing failed", "error", err)
		overdue = nil
	}

	flagged, err := s.predictions.SweepStale(ctx, now)
	if err != nil {
		slog.Error("prediction staleness sweep failed", "error", err)
		return
	}
	if flagged == 0 {
		return
	}

	slog.Warn("stale predictions flagged", "count", flagged)
	if s.metrics != nil {
		s.metrics.FlaggedPredictions.Add(ctx, int64(flagged))
	}
	if s.events != nil {
		for _, p := range overdue {
			s.events.BroadcastEvent(ctx, ws.EventPredictionFlagged, ws.PredictionEvent{
				PredictionID: p.ID,
				Status:       string(prediction.StatusFlagged),
				CurrentScore: p.CurrentScore,
			})
		}
	}
}
