// Package notifier defines the alert delivery port. Providers register
// themselves by name; the alert service fans a notification out to every
// configured provider and treats each delivery as best-effort.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by Send when a provider is missing the
// settings it needs (webhook URL, recipient address).
var ErrNotConfigured = errors.New("notifier: not configured")

// Severity values carried in Notification.Level.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is the payload sent through a Notifier. Source identifies
// what raised the alert (e.g. "budget.stop", "task.stuck") so providers
// can route or tag it.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
	Source  string `json:"source"`
}

// Capabilities declares which delivery features a provider supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Threads        bool `json:"threads"`
}

// Notifier delivers operator alerts to one channel.
type Notifier interface {
	// Name returns the provider identifier ("slack", "discord", "email").
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// Send delivers one notification.
	Send(ctx context.Context, notification Notification) error
}
