package dispatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"modsy/internal/domain"
)

// LogDispatcher stands in for the device when no database is configured.
// Every command is accepted and only logged.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger.With("component", "dispatch")}
}

func (d *LogDispatcher) Dispatch(_ context.Context, intent domain.Intent) (string, error) {
	if intent == domain.IntentNone {
		return "", domain.ErrNothingToDispatch
	}
	id := uuid.NewString()
	d.logger.Info("rotation command not sent, no wardrobe configured", "section", intent, "command_id", id)
	return id, nil
}
