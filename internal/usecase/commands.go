package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

// CommandPipeline is the press-and-hold flow: press starts listening,
// release resolves the transcript and rotates the matching section.
type CommandPipeline struct {
	controller *SessionController
	finalizer  transcriptFinalizer
	events     ports.EventSink
	logger     *slog.Logger

	mu        sync.Mutex
	pressedAt time.Time

	monitor      ports.DeviceMonitor
	awaitTimeout time.Duration
	pollEvery    time.Duration
	watchCtx     context.Context
	stopWatching context.CancelFunc

	// watchMu orders watchers.Add against Close.
	watchMu  sync.Mutex
	watchers sync.WaitGroup
}

func NewCommandPipeline(
	controller *SessionController,
	rules ports.RulesEngine,
	resolver ports.IntentResolver,
	dispatcher ports.CommandDispatcher,
	journal ports.Journal,
	events ports.EventSink,
	logger *slog.Logger,
) *CommandPipeline {
	if events == nil {
		events = noopEventSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	watchCtx, stopWatching := context.WithCancel(context.Background())
	return &CommandPipeline{
		controller:   controller,
		events:       events,
		logger:       logger,
		watchCtx:     watchCtx,
		stopWatching: stopWatching,
		finalizer: transcriptFinalizer{
			rules:      rules,
			resolver:   resolver,
			dispatcher: dispatcher,
			journal:    journal,
			events:     events,
			logger:     logger,
		},
	}
}

// Press starts a listening session. Partial transcripts go to the event sink
// and to onUpdate when it is not nil.
func (p *CommandPipeline) Press(ctx context.Context, onUpdate func(text string)) error {
	if p.controller.IsListening() {
		return nil
	}
	if err := p.controller.Begin(ctx, func(text string) {
		p.events.PartialTranscript(text)
		if onUpdate != nil {
			onUpdate(text)
		}
	}); err != nil {
		return err
	}

	p.mu.Lock()
	p.pressedAt = time.Now().UTC()
	p.mu.Unlock()
	return nil
}

// Release ends the session and acts on what was said. An unrecognized
// transcript is a normal result with Recognized=false.
func (p *CommandPipeline) Release(ctx context.Context) (domain.CommandResult, error) {
	sessionID, transcript, ended := p.controller.end(ctx)
	if !ended {
		return domain.CommandResult{}, domain.ErrNoActiveSession
	}

	p.mu.Lock()
	startedAt := p.pressedAt
	p.mu.Unlock()

	result, err := p.finalizer.Finalize(ctx, finalizeInput{
		sessionID:  sessionID,
		source:     domain.CommandSourceVoice,
		transcript: transcript,
		startedAt:  startedAt,
	})
	p.watch(result)
	return result, err
}

// Rotate dispatches a section chosen without voice.
func (p *CommandPipeline) Rotate(ctx context.Context, intent domain.Intent) (domain.CommandResult, error) {
	if intent == domain.IntentNone {
		return domain.CommandResult{}, domain.ErrNothingToDispatch
	}
	now := time.Now().UTC()
	result, err := p.finalizer.dispatch(ctx, domain.CommandResult{Intent: intent}, finalizeInput{
		source:    domain.CommandSourceManual,
		startedAt: now,
	})
	p.watch(result)
	return result, err
}

// Status reports the listening state.
func (p *CommandPipeline) Status() domain.Status {
	return p.controller.Status()
}

// WatchDevice makes every dispatched command wait in the background for the
// wardrobe to finish it. The outcome goes to the event sink as
// DeviceStatusChanged, plus a device error when the wardrobe reports "erro".
// Call it before the first Press or Rotate.
func (p *CommandPipeline) WatchDevice(monitor ports.DeviceMonitor, timeout, every time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p.monitor = monitor
	p.awaitTimeout = timeout
	p.pollEvery = every
}

// Close stops pending device watches and waits for them to return.
func (p *CommandPipeline) Close() {
	p.watchMu.Lock()
	p.stopWatching()
	p.watchMu.Unlock()
	p.watchers.Wait()
}

func (p *CommandPipeline) watch(result domain.CommandResult) {
	if p.monitor == nil || !result.Dispatched || result.CommandID == "" {
		return
	}
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watchCtx.Err() != nil {
		return
	}

	p.watchers.Add(1)
	go func() {
		defer p.watchers.Done()

		ctx, cancel := context.WithTimeout(p.watchCtx, p.awaitTimeout)
		defer cancel()

		logger := p.logger.With("command_id", result.CommandID, "section", result.Intent)
		command, err := p.monitor.AwaitCompletion(ctx, result.CommandID, p.pollEvery)
		switch {
		case err == nil:
			logger.Info("wardrobe finished command", "status", command.Status)
			p.events.DeviceStatusChanged(command)
		case errors.Is(err, domain.ErrCommandFailed):
			logger.Warn("wardrobe failed command")
			p.events.DeviceStatusChanged(command)
			p.events.SessionError(domain.ErrorCodeDevice, fmt.Sprintf("wardrobe could not rotate %s", result.Intent.DisplayName()))
		case errors.Is(err, context.Canceled):
		default:
			logger.Warn("wardrobe command not confirmed", "error", err)
		}
	}()
}
