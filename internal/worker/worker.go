package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/signaldesk/signaldesk/internal/adapter/otel"
	"github.com/signaldesk/signaldesk/internal/config"
	"github.com/signaldesk/signaldesk/internal/domain"
	"github.com/signaldesk/signaldesk/internal/domain/task"
	"github.com/signaldesk/signaldesk/internal/port/messagequeue"
	"github.com/signaldesk/signaldesk/internal/service"
)

// Worker is one role's claim loop. It drains the queue on start, then
// sleeps until a wakeup message or the poll ticker fires. Missed wakeups
// are harmless: the ticker guarantees progress, the wakeup only trims
// idle latency.
type Worker struct {
	name     string
	role     task.Role
	queue    *service.QueueService
	executor *Executor
	bus      messagequeue.Queue
	poll     time.Duration
	batch    int
	metrics  *otel.Metrics

	stop <-chan struct{}
}

func (w *Worker) run(ctx context.Context) {
	log := slog.With("worker", w.name, "role", w.role)

	wake := make(chan struct{}, 1)
	if w.bus != nil {
		subject := messagequeue.TaskEnqueuedSubject(string(w.role))
		cancel, err := w.bus.Subscribe(ctx, subject, func(context.Context, string, []byte) error {
			select {
			case wake <- struct{}{}:
			default:
			}
			return nil
		})
		if err != nil {
			log.Warn("wakeup subscription failed, polling only", "subject", subject, "error", err)
		} else {
			defer cancel()
		}
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	log.Info("worker started", "poll_interval", w.poll, "claim_batch", w.batch)

	for {
		w.drain(ctx, log)

		select {
		case <-wake:
		case <-ticker.C:
		case <-w.stop:
			log.Info("worker stopped")
			return
		case <-ctx.Done():
			log.Info("worker stopped", "reason", ctx.Err())
			return
		}
	}
}

// drain claims and executes batches until the queue has no more work for
// this role. A short batch means the queue is (momentarily) empty.
func (w *Worker) drain(ctx context.Context, log *slog.Logger) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := w.queue.Claim(ctx, w.role, w.batch)
		if err != nil {
			log.Error("claim failed", "error", err)
			return
		}
		if len(claimed) == 0 {
			return
		}

		if w.metrics != nil {
			w.metrics.TasksClaimed.Add(ctx, int64(len(claimed)), metric.WithAttributes(
				attribute.String("role", string(w.role)),
			))
		}

		for i := range claimed {
			w.executor.Execute(ctx, &claimed[i])
		}

		if len(claimed) < w.batch {
			return
		}
	}
}

// Fleet owns one Worker per configured role, all sharing a single
// executor and stop signal.
type Fleet struct {
	cfg      config.Worker
	queue    *service.QueueService
	executor *Executor
	bus      messagequeue.Queue
	metrics  *otel.Metrics

	workers  []*Worker
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewFleet creates a Fleet for the configured roles. The bus may be nil;
// workers then rely on polling alone.
func NewFleet(cfg config.Worker, queue *service.QueueService, executor *Executor, bus messagequeue.Queue) *Fleet {
	return &Fleet{
		cfg:      cfg,
		queue:    queue,
		executor: executor,
		bus:      bus,
		stop:     make(chan struct{}),
	}
}

// SetMetrics wires metric instruments. Optional.
func (f *Fleet) SetMetrics(m *otel.Metrics) { f.metrics = m }

// Start validates the configured roles and launches one worker per role.
// The context cancels every worker; Stop does the same and also waits.
func (f *Fleet) Start(ctx context.Context) error {
	for _, r := range f.cfg.Roles {
		if !task.KnownRole(task.Role(r)) {
			return fmt.Errorf("unknown worker role %q: %w", r, domain.ErrValidation)
		}
	}

	poll := f.cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	batch := f.cfg.ClaimBatch
	if batch < 1 {
		batch = 1
	}

	for _, r := range f.cfg.Roles {
		w := &Worker{
			name:     fmt.Sprintf("%s-%s", r, uuid.NewString()[:8]),
			role:     task.Role(r),
			queue:    f.queue,
			executor: f.executor,
			bus:      f.bus,
			poll:     poll,
			batch:    batch,
			metrics:  f.metrics,
			stop:     f.stop,
		}
		f.workers = append(f.workers, w)

		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			w.run(ctx)
		}()
	}

	slog.Info("worker fleet started", "roles", f.cfg.Roles)
	return nil
}

// Stop signals every worker and waits for in-flight executions to finish.
func (f *Fleet) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
	})
	f.wg.Wait()
	slog.Info("worker fleet stopped")
}
