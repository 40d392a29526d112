package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

// transcriptFinalizer turns a released gesture's transcript into a command:
// corrections, intent resolution, dispatch and journaling.
type transcriptFinalizer struct {
	rules      ports.RulesEngine
	resolver   ports.IntentResolver
	dispatcher ports.CommandDispatcher
	journal    ports.Journal
	events     ports.EventSink
	logger     *slog.Logger
}

type finalizeInput struct {
	sessionID  string
	source     string
	transcript string
	startedAt  time.Time
}

func (f transcriptFinalizer) Finalize(ctx context.Context, in finalizeInput) (domain.CommandResult, error) {
	result := domain.CommandResult{
		SessionID:  in.sessionID,
		Transcript: in.transcript,
		Corrected:  in.transcript,
	}

	if in.transcript != "" {
		corrected, err := f.rules.Apply(in.transcript)
		if err != nil {
			f.logger.Warn("transcript correction failed", "session", in.sessionID, "error", err)
			f.events.SessionError(domain.ErrorCodeRules, err.Error())
		} else {
			result.Corrected = corrected
		}
	}

	result.Intent = f.resolver.Resolve(result.Corrected)
	return f.dispatch(ctx, result, in)
}

func (f transcriptFinalizer) dispatch(ctx context.Context, result domain.CommandResult, in finalizeInput) (domain.CommandResult, error) {
	result.Recognized = result.Intent != domain.IntentNone

	var dispatchErr error
	if result.Recognized {
		commandID, err := f.dispatcher.Dispatch(ctx, result.Intent)
		if err != nil {
			dispatchErr = fmt.Errorf("failed to dispatch %s rotation: %w", result.Intent, err)
			f.logger.Error("wardrobe command failed", "session", in.sessionID, "intent", result.Intent, "error", err)
			f.events.SessionError(domain.ErrorCodeDispatch, dispatchErr.Error())
		} else {
			result.Dispatched = true
			result.CommandID = commandID
		}
	}

	record := domain.CommandRecord{
		ID:         result.CommandID,
		SessionID:  in.sessionID,
		Source:     in.source,
		Transcript: result.Transcript,
		Corrected:  result.Corrected,
		Intent:     result.Intent,
		Dispatched: result.Dispatched,
		StartedAt:  in.startedAt,
		EndedAt:    time.Now().UTC(),
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if dispatchErr != nil {
		record.Error = dispatchErr.Error()
	}
	if err := f.journal.Record(ctx, record); err != nil && !errors.Is(err, context.Canceled) {
		f.logger.Warn("journal write failed", "session", in.sessionID, "error", err)
		f.events.SessionError(domain.ErrorCodeJournal, err.Error())
	}

	f.logger.Info("command resolved",
		"session", in.sessionID,
		"source", in.source,
		"transcript", result.Corrected,
		"intent", result.Intent,
		"dispatched", result.Dispatched,
	)
	f.events.IntentResolved(result)
	return result, dispatchErr
}
