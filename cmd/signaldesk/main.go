package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	sdhttp "github.com/signaldesk/signaldesk/internal/adapter/http"
	"github.com/signaldesk/signaldesk/internal/adapter/litellm"
	sdnats "github.com/signaldesk/signaldesk/internal/adapter/nats"
	"github.com/signaldesk/signaldesk/internal/adapter/natskv"
	"github.com/signaldesk/signaldesk/internal/adapter/otel"
	"github.com/signaldesk/signaldesk/internal/adapter/postgres"
	"github.com/signaldesk/signaldesk/internal/adapter/ristretto"
	"github.com/signaldesk/signaldesk/internal/adapter/tiered"
	"github.com/signaldesk/signaldesk/internal/adapter/ws"
	"github.com/signaldesk/signaldesk/internal/config"
	"github.com/signaldesk/signaldesk/internal/domain/prediction"
	"github.com/signaldesk/signaldesk/internal/logger"
	"github.com/signaldesk/signaldesk/internal/middleware"
	"github.com/signaldesk/signaldesk/internal/port/cache"
	"github.com/signaldesk/signaldesk/internal/port/notifier"
	"github.com/signaldesk/signaldesk/internal/resilience"
	"github.com/signaldesk/signaldesk/internal/service"
	"github.com/signaldesk/signaldesk/internal/worker"
)

// localCacheSize bounds the in-process reasoner cache.
const localCacheSize = 64 << 20 // 64 MB

func main() {
	// Bootstrap logger until the configured one takes over in run().
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			slog.Error("migrate failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logClose := logger.New(cfg.Logging)
	defer logClose.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"worker_roles", cfg.Worker.Roles,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Telemetry ---

	shutdownOTel, err := otel.Setup(ctx, cfg.OTel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	store := postgres.NewStore(pool)

	bus, err := sdnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = bus.Drain() }()

	// --- Reasoner ---

	local, err := ristretto.New(localCacheSize)
	if err != nil {
		return fmt.Errorf("local cache: %w", err)
	}
	reasonCache := cache.Cache(local)
	if kv, kvErr := bus.KeyValue(ctx, "reasoner-cache", cfg.Reasoner.CacheTTL); kvErr == nil {
		reasonCache = tiered.New(local, natskv.New(kv), cfg.Reasoner.CacheTTL)
	} else {
		slog.Warn("shared reasoner cache unavailable, using local only", "error", kvErr)
	}

	reasonerClient := litellm.NewClient(cfg.Reasoner)
	reasonerClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	reasonerClient.SetCache(reasonCache)

	// --- Services ---

	queueSvc := service.NewQueueService(store, bus, cfg.Governor.DefaultBudget)
	negotiationSvc := service.NewNegotiationService(store, bus, cfg.Governor.DefaultBudget)
	governorSvc := service.NewGovernorService(store, cfg.Governor)
	predictionSvc := service.NewPredictionService(store, bus, prediction.DefaultScorer)
	freshnessSvc := service.NewFreshnessService(store, cfg.Digest)
	digestSvc := service.NewDigestService(store, freshnessSvc, bus, cfg.Digest)
	ingestSvc := service.NewIngestService(store, queueSvc)
	alertSvc := buildAlerts(cfg.Alerts)

	hub := ws.NewHub(cfg.Server.CORSOrigin, log)

	// --- Worker fleet and sweeps ---

	executor := worker.NewExecutor(queueSvc, negotiationSvc, governorSvc, reasonerClient,
		worker.NewPool(cfg.Worker.MaxConcurrentReasoning))
	executor.SetAlerts(alertSvc)
	executor.SetMetrics(metrics)
	executor.SetEvents(hub)

	fleet := worker.NewFleet(cfg.Worker, queueSvc, executor, bus)
	fleet.SetMetrics(metrics)
	if err := fleet.Start(ctx); err != nil {
		return fmt.Errorf("worker fleet: %w", err)
	}
	defer fleet.Stop()

	sweeper := worker.NewSweeper(queueSvc, negotiationSvc, predictionSvc, cfg.Sweep)
	sweeper.SetAlerts(alertSvc)
	sweeper.SetMetrics(metrics)
	sweeper.SetEvents(hub)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// --- HTTP ---

	handlers := &sdhttp.Handlers{
		Ingest:        ingestSvc,
		Queue:         queueSvc,
		Negotiations:  negotiationSvc,
		Governor:      governorSvc,
		Predictions:   predictionSvc,
		Opportunities: freshnessSvc,
		Digest:        digestSvc,
		Bus:           bus,
		Hub:           hub,
		Metrics:       metrics,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(sdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(sdhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(sdhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(limiter.Handler)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	if kv, kvErr := bus.KeyValue(ctx, "idempotency", 24*time.Hour); kvErr == nil {
		r.Use(middleware.Idempotency(kv))
	} else {
		slog.Warn("idempotency keys unavailable, replay protection off", "error", kvErr)
	}

	sdhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// WriteTimeout stops applying once /ws hijacks the connection,
		// so it only bounds regular API responses.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// buildAlerts constructs the alert fan-out from configured providers.
// A misconfigured provider is skipped, not fatal: alerting is advisory.
func buildAlerts(cfg config.Alerts) *service.AlertService {
	slog.Debug("alert providers registered", "available", notifier.Available())
	var notifiers []notifier.Notifier
	for name, settings := range cfg.Providers {
		n, err := notifier.New(name, settings)
		if err != nil {
			slog.Warn("alert provider skipped", "provider", name, "error", err)
			continue
		}
		notifiers = append(notifiers, n)
	}
	return service.NewAlertService(notifiers, cfg.Sources)
}
