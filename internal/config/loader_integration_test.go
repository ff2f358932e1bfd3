package config

import (
	"os"
	"path/filepath"
	"testing"
)

// These tests drive the full LoadFrom pipeline: defaults < YAML < env.

// writeConfig drops YAML content into a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signaldesk.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFrom_EnvBeatsYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
logging:
  level: "debug"
governor:
  default_budget:
    max_llm_calls: 30
`)
	t.Setenv("SIGNALDESK_PORT", "7070")
	t.Setenv("SIGNALDESK_LOG_LEVEL", "warn")
	t.Setenv("SIGNALDESK_BUDGET_MAX_LLM_CALLS", "12")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("port = %q, want env value 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want env value warn", cfg.Logging.Level)
	}
	if cfg.Governor.DefaultBudget.MaxLLMCalls != 12 {
		t.Errorf("max_llm_calls = %d, want env value 12", cfg.Governor.DefaultBudget.MaxLLMCalls)
	}
}

func TestLoadFrom_YAMLBeatsDefaults(t *testing.T) {
	path := writeConfig(t, `
digest:
  max_opportunities: 8
  max_returning: 2
worker:
  roles: ["analyst"]
  poll_interval: 2s
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Digest.MaxOpportunities != 8 || cfg.Digest.MaxReturning != 2 {
		t.Errorf("digest overrides not applied: %+v", cfg.Digest)
	}
	if len(cfg.Worker.Roles) != 1 || cfg.Worker.Roles[0] != "analyst" {
		t.Errorf("roles = %v, want [analyst]", cfg.Worker.Roles)
	}

	// Untouched fields keep their defaults.
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want default 8080", cfg.Server.Port)
	}
	if cfg.Digest.MinSectionEntries != 2 {
		t.Errorf("min_section_entries = %d, want default 2", cfg.Digest.MinSectionEntries)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("max_conns = %d, want default 15", cfg.Postgres.MaxConns)
	}
	// NATS_URL is commonly exported in dev containers, so only require a
	// non-empty value here.
	if cfg.NATS.URL == "" {
		t.Error("NATS URL must not be empty")
	}
}

func TestLoadFrom_GarbageEnvIgnored(t *testing.T) {
	path := writeConfig(t, "")

	t.Setenv("SIGNALDESK_PG_MAX_CONNS", "notanumber")
	t.Setenv("SIGNALDESK_BREAKER_TIMEOUT", "invalid-duration")
	t.Setenv("SIGNALDESK_RATE_RPS", "abc")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("max_conns = %d, want default 15 after garbage env", cfg.Postgres.MaxConns)
	}
	if cfg.Breaker.Timeout.String() != "30s" {
		t.Errorf("breaker timeout = %v, want default 30s after garbage env", cfg.Breaker.Timeout)
	}
	if cfg.Rate.RequestsPerSecond != 10 {
		t.Errorf("rate = %v, want default 10 after garbage env", cfg.Rate.RequestsPerSecond)
	}
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/to/signaldesk.yaml")
	if err != nil {
		t.Fatalf("missing YAML must not error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want default 8080", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q, want default info", cfg.Logging.Level)
	}
}

func TestLoadFrom_MalformedYAML(t *testing.T) {
	path := writeConfig(t, `{{{invalid yaml`)

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadFrom_ValidatesMergedResult(t *testing.T) {
	// The empty port only exists after the YAML overlay, so this proves
	// validation runs on the merged config, not the defaults.
	path := writeConfig(t, `
server:
  port: ""
`)

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected validation error for empty port")
	}
}

func TestReload_UpdatesFields(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "info"
rate:
  burst: 50
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	holder := NewHolder(cfg, path)

	if got := holder.Get(); got.Logging.Level != "info" || got.Rate.Burst != 50 {
		t.Fatalf("initial config wrong: level=%q burst=%d", got.Logging.Level, got.Rate.Burst)
	}

	if err := os.WriteFile(path, []byte(`
logging:
  level: "debug"
rate:
  burst: 200
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := holder.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if got := holder.Get(); got.Logging.Level != "debug" || got.Rate.Burst != 200 {
		t.Errorf("reload not applied: level=%q burst=%d", got.Logging.Level, got.Rate.Burst)
	}
}

func TestReload_KeepsOldConfigOnFailure(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	holder := NewHolder(cfg, path)

	// Break the file, then reload. The holder must reject the new file
	// and keep serving the last good config.
	if err := os.WriteFile(path, []byte(`
server:
  port: ""
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := holder.Reload(); err == nil {
		t.Fatal("expected reload to fail for invalid config")
	}
	if got := holder.Get(); got.Server.Port != "9090" {
		t.Errorf("port = %q after failed reload, want preserved 9090", got.Server.Port)
	}
}
