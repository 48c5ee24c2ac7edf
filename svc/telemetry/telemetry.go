// Package telemetry delivers mirror lifecycle events to an analytics
// endpoint.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/logger"
	"github.com/dmitrymomot/entitlekit/pkg/webhook"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

type Config struct {
	WebhookURL    string        `env:"TELEMETRY_WEBHOOK_URL"`
	WebhookSecret string        `env:"TELEMETRY_WEBHOOK_SECRET"`
	Retries       int           `env:"TELEMETRY_RETRIES" envDefault:"2"`
	RetryDelay    time.Duration `env:"TELEMETRY_RETRY_DELAY" envDefault:"500ms"`
}

// New returns a WebhookTracker when a URL is configured and a LogTracker
// otherwise.
func New(cfg Config, log *slog.Logger) mirror.Tracker {
	if cfg.WebhookURL == "" {
		return LogTracker{log: log}
	}
	sender := webhook.NewSender(
		webhook.WithSecret(cfg.WebhookSecret),
		webhook.WithRetries(cfg.Retries, cfg.RetryDelay),
	)
	return NewWebhookTracker(sender, cfg.WebhookURL)
}

// WebhookTracker posts each event as signed JSON.
type WebhookTracker struct {
	sender   *webhook.Sender
	endpoint string
}

func NewWebhookTracker(sender *webhook.Sender, endpoint string) *WebhookTracker {
	return &WebhookTracker{sender: sender, endpoint: endpoint}
}

func (t *WebhookTracker) Track(ctx context.Context, ev mirror.TrackEvent) error {
	return t.sender.Send(ctx, t.endpoint, ev)
}

// LogTracker writes events to the log.
type LogTracker struct {
	log *slog.Logger
}

func (t LogTracker) Track(ctx context.Context, ev mirror.TrackEvent) error {
	log := t.log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "tracking event",
		logger.Component("telemetry"),
		logger.Event(ev.Name),
		logger.AccountID(ev.AccountID),
	)
	return nil
}

// Noop drops every event.
type Noop struct{}

func (Noop) Track(context.Context, mirror.TrackEvent) error { return nil }
