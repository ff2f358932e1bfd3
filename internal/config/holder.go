package config

import "sync"

// Holder wraps a Config with safe concurrent access and reload support.
// Reload re-runs the full hierarchy from the original YAML path and only
// swaps the config in if it validates; a bad file on disk never replaces
// a known-good running config.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder returns a Holder serving the given config, remembering the
// YAML path for later reloads.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Get returns the current config snapshot.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-loads the config from disk and environment. On error the
// previous config stays in place.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	return nil
}
