// Package discord implements a notifier.Notifier that posts operator
// alerts to a Discord webhook as colored embeds.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/signaldesk/signaldesk/internal/port/notifier"
)

const providerName = "discord"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		return NewNotifier(config["webhook_url"]), nil
	})
}

// Embed colors per alert level, in Discord's integer RGB form.
var levelColors = map[string]int{
	notifier.LevelSuccess: 0x2ECC71,
	notifier.LevelWarning: 0xF39C12,
	notifier.LevelError:   0xE74C3C,
	notifier.LevelInfo:    0x3498DB,
}

// Notifier posts alerts to a Discord incoming webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Discord notifier for the given webhook URL. An
// empty URL leaves the notifier registered but unconfigured.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true, Threads: true}
}

// Wire format for webhook posts. Discord renders one embed per alert.
type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// Send posts the alert as a single embed. Discord answers 204 on success.
func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(discordWebhook{Embeds: []discordEmbed{buildEmbed(notification)}})
	if err != nil {
		return fmt.Errorf("discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("discord API %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

func buildEmbed(notification notifier.Notification) discordEmbed {
	embed := discordEmbed{
		Title:       notification.Title,
		Description: notification.Message,
		Color:       colorFor(notification.Level),
	}
	if notification.Source != "" {
		embed.Footer = &discordFooter{Text: "Source: " + notification.Source}
	}
	return embed
}

func colorFor(level string) int {
	if c, ok := levelColors[level]; ok {
		return c
	}
	return levelColors[notifier.LevelInfo]
}
