// Package email implements a notifier.Notifier that delivers operator
// alerts over SMTP.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/signaldesk/signaldesk/internal/port/notifier"
)

const providerName = "email"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port := 587
		if v := config["port"]; v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("email: bad port %q: %w", v, err)
			}
			port = p
		}
		return NewNotifier(SMTPConfig{
			Host:     config["host"],
			Port:     port,
			From:     config["from"],
			Password: config["password"],
			To:       strings.Split(config["to"], ","),
		}), nil
	})
}

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	To       []string
}

// Notifier sends alert emails via SMTP.
type Notifier struct {
	cfg SMTPConfig
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{}
}

// Send delivers the alert as a plain-text email to every configured
// recipient in one SMTP transaction.
func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" || len(n.cfg.To) == 0 {
		return notifier.ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	subject := fmt.Sprintf("[signaldesk] %s", notification.Title)

	body := notification.Message
	if notification.Source != "" {
		body += "\r\n\r\nSource: " + notification.Source
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		n.cfg.From, strings.Join(n.cfg.To, ", "), subject, body)

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	return smtp.SendMail(addr, auth, n.cfg.From, n.cfg.To, []byte(msg))
}
