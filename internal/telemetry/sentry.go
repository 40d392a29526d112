package telemetry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig configures error reporting. An empty DSN disables delivery.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	// BeforeSend lets callers inspect or drop events.
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

// SentryReporter implements ports.ErrorReporter.
type SentryReporter struct {
	hub    *sentry.Hub
	logger *slog.Logger
}

func NewSentryReporter(cfg SentryConfig, logger *slog.Logger) (*SentryReporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init failed: %w", err)
	}
	return &SentryReporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}, nil
}

// Report captures err with tags. Nil errors are ignored.
func (r *SentryReporter) Report(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if id := r.hub.CaptureException(err); id == nil {
			r.logger.Debug("error report dropped", "error", err)
		}
	})
}

// Hub exposes the reporter's hub for HTTP panic recovery.
func (r *SentryReporter) Hub() *sentry.Hub {
	return r.hub
}

// Flush waits up to timeout for queued events.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
