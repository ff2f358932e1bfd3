package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "signaldesk.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SIGNALDESK_PORT")
	setString(&cfg.Server.CORSOrigin, "SIGNALDESK_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SIGNALDESK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SIGNALDESK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SIGNALDESK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SIGNALDESK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SIGNALDESK_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Reasoner.URL, "REASONER_URL")
	setString(&cfg.Reasoner.APIKey, "REASONER_API_KEY")
	setDuration(&cfg.Reasoner.Timeout, "SIGNALDESK_REASONER_TIMEOUT")
	setDuration(&cfg.Reasoner.CacheTTL, "SIGNALDESK_REASONER_CACHE_TTL")
	setString(&cfg.Logging.Level, "SIGNALDESK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SIGNALDESK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SIGNALDESK_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "SIGNALDESK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SIGNALDESK_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "SIGNALDESK_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SIGNALDESK_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "SIGNALDESK_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "SIGNALDESK_RATE_MAX_IDLE_TIME")

	setStrings(&cfg.Worker.Roles, "SIGNALDESK_WORKER_ROLES")
	setDuration(&cfg.Worker.PollInterval, "SIGNALDESK_WORKER_POLL_INTERVAL")
	setInt(&cfg.Worker.ClaimBatch, "SIGNALDESK_WORKER_CLAIM_BATCH")
	setInt64(&cfg.Worker.MaxConcurrentReasoning, "SIGNALDESK_WORKER_MAX_CONCURRENT_REASONING")

	setDuration(&cfg.Sweep.Interval, "SIGNALDESK_SWEEP_INTERVAL")
	setDuration(&cfg.Sweep.StuckTaskAfter, "SIGNALDESK_SWEEP_STUCK_TASK_AFTER")

	setInt(&cfg.Governor.DefaultBudget.MaxLLMCalls, "SIGNALDESK_BUDGET_MAX_LLM_CALLS")
	setInt(&cfg.Governor.DefaultBudget.MaxSeconds, "SIGNALDESK_BUDGET_MAX_SECONDS")
	setInt(&cfg.Governor.DefaultBudget.MaxSubtasks, "SIGNALDESK_BUDGET_MAX_SUBTASKS")
	setInt(&cfg.Governor.DefaultBudget.MaxRetries, "SIGNALDESK_BUDGET_MAX_RETRIES")
	setFloat64(&cfg.Governor.CostPerLLMCall, "SIGNALDESK_COST_PER_LLM_CALL")

	setInt(&cfg.Digest.MaxOpportunities, "SIGNALDESK_DIGEST_MAX_OPPORTUNITIES")
	setInt(&cfg.Digest.MaxReturning, "SIGNALDESK_DIGEST_MAX_RETURNING")
	setInt(&cfg.Digest.MinSectionEntries, "SIGNALDESK_DIGEST_MIN_SECTION_ENTRIES")
	setInt(&cfg.Digest.ExcludeFeaturedWithinDays, "SIGNALDESK_DIGEST_EXCLUDE_DAYS")

	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTel.Insecure, "SIGNALDESK_OTEL_INSECURE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Worker.ClaimBatch < 1 {
		return errors.New("worker.claim_batch must be >= 1")
	}
	if cfg.Worker.MaxConcurrentReasoning < 1 {
		return errors.New("worker.max_concurrent_reasoning must be >= 1")
	}
	if cfg.Sweep.StuckTaskAfter <= 0 {
		return errors.New("sweep.stuck_task_after must be positive")
	}
	if cfg.Digest.MaxReturning < 0 {
		return errors.New("digest.max_returning must not be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
