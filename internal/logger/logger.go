// Package logger provides structured logging setup for signaldesk.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/signaldesk/signaldesk/internal/config"
)

// Default sizing for the async handler. One worker is enough; ordering
// within a single worker stays stable.
const (
	asyncChanSize = 1024
	asyncWorkers  = 1
)

// New creates a *slog.Logger from the given Logging config, plus a
// Closer that flushes pending records on shutdown. Output is JSON to
// stdout with a "service" attribute on every record. With async enabled,
// records pass through a buffered channel and full buffers drop rather
// than block.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		ah := NewAsyncHandler(handler, asyncChanSize, asyncWorkers)
		handler = ah
		closer = ah
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
