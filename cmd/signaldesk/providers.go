package main

// Notifier blank imports — each import activates a self-registering
// alert provider. Add new providers here as they are implemented.

import (
	_ "github.com/signaldesk/signaldesk/internal/adapter/discord"
	_ "github.com/signaldesk/signaldesk/internal/adapter/email"
	_ "github.com/signaldesk/signaldesk/internal/adapter/slack"
)
