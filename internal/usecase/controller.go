package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

const DefaultLocale = "pt-BR"

// DefaultEngine is the recognition engine requested on goos when none is
// configured: the platform recognizer on android, the streaming engine elsewhere.
func DefaultEngine(goos string) string {
	if goos == "android" {
		return "google"
	}
	return "deepgram"
}

// Config controls how listening sessions start.
type Config struct {
	Locale string
	Engine string
}

// SessionController owns the microphone: it runs one listening session at a
// time through idle -> starting -> listening -> stopping -> idle.
type SessionController struct {
	bridge      ports.SpeechBridge
	permissions ports.PermissionGate
	events      ports.EventSink
	reporter    ports.ErrorReporter
	logger      *slog.Logger
	cfg         Config

	mu      sync.Mutex
	current session
}

func NewSessionController(
	bridge ports.SpeechBridge,
	permissions ports.PermissionGate,
	events ports.EventSink,
	reporter ports.ErrorReporter,
	logger *slog.Logger,
	cfg Config,
) *SessionController {
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	if cfg.Engine == "" {
		cfg.Engine = DefaultEngine(runtime.GOOS)
	}
	if events == nil {
		events = noopEventSink{}
	}
	if reporter == nil {
		reporter = noopReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionController{
		bridge:      bridge,
		permissions: permissions,
		events:      events,
		reporter:    reporter,
		logger:      logger,
		cfg:         cfg,
		current:     idleSession(),
	}
}

// Begin starts listening. It is a no-op unless the controller is idle.
// onUpdate receives every non-empty partial or final transcript.
func (c *SessionController) Begin(ctx context.Context, onUpdate func(text string)) error {
	c.mu.Lock()
	if c.current.status != domain.SessionStatusIdle {
		c.mu.Unlock()
		return nil
	}
	id := uuid.NewString()
	c.current = session{id: id, status: domain.SessionStatusStarting, onUpdate: onUpdate}
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStatusStarting)
	logger := c.logger.With("session", id)

	granted, err := c.permissions.RequestMicrophoneAccess(ctx)
	if err == nil && !granted {
		err = domain.ErrPermissionDenied
	}
	if err != nil {
		if !errors.Is(err, domain.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
		}
		logger.Info("listening not started", "error", err)
		c.abortStart(id, nil)
		c.events.SessionError(domain.ErrorCodePermission, err.Error())
		return err
	}

	subs := make([]ports.Subscription, 0, len(domain.BridgeEventKinds))
	for _, kind := range domain.BridgeEventKinds {
		subs = append(subs, c.bridge.AddListener(kind, c.listener(id, kind)))
	}
	c.mu.Lock()
	c.current.subscriptions = subs
	c.mu.Unlock()

	opts := ports.StartOptions{PartialResults: true, PreferOffline: true, Engine: c.cfg.Engine}
	if err := c.bridge.Start(ctx, c.cfg.Locale, opts); err != nil {
		if !errors.Is(err, domain.ErrEngineUnavailable) && !errors.Is(err, domain.ErrEngineStartFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrEngineStartFailure, err)
		}
		logger.Warn("speech engine rejected start", "error", err)
		c.abortStart(id, subs)
		c.events.SessionError(domain.ErrorCodeEngineStart, err.Error())
		return err
	}

	c.mu.Lock()
	if c.current.id == id {
		c.current.status = domain.SessionStatusListening
	}
	c.mu.Unlock()

	logger.Info("listening", "locale", c.cfg.Locale, "engine", c.cfg.Engine)
	c.events.SessionStateChanged(domain.SessionStatusListening)
	return nil
}

// End stops the active session and returns its transcript, trimmed. It
// returns "" without side effects unless the controller is listening.
func (c *SessionController) End(ctx context.Context) string {
	_, text, _ := c.end(ctx)
	return text
}

// end is End that also reports the session it ended. ended is false when
// another caller got to the session first.
func (c *SessionController) end(ctx context.Context) (sessionID string, text string, ended bool) {
	c.mu.Lock()
	if c.current.status != domain.SessionStatusListening {
		c.mu.Unlock()
		return "", "", false
	}
	id := c.current.id
	c.current.status = domain.SessionStatusStopping
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStatusStopping)
	logger := c.logger.With("session", id)

	// Stop may deliver one last final result, which still counts.
	if err := c.bridge.Stop(ctx); err != nil {
		logger.Warn("speech engine stop failed", "error", err)
		c.events.SessionError(domain.ErrorCodeEngineStop, err.Error())
	}

	c.mu.Lock()
	c.current.detached = true
	subs := c.current.subscriptions
	c.current.subscriptions = nil
	c.mu.Unlock()

	releaseSubscriptions(subs)
	if err := c.bridge.Teardown(); err != nil {
		logger.Warn("speech engine teardown failed", "error", err)
	}

	c.mu.Lock()
	text = strings.TrimSpace(c.current.transcript)
	c.current = idleSession()
	c.mu.Unlock()

	logger.Info("listening stopped", "transcript", text)
	c.events.SessionStateChanged(domain.SessionStatusIdle)
	return id, text, true
}

// IsListening reports whether a session is in the listening state.
func (c *SessionController) IsListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.status == domain.SessionStatusListening
}

// Status returns the current session status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{
		State:     c.current.status,
		Listening: c.current.status == domain.SessionStatusListening,
		SessionID: c.current.id,
	}
}

// Close ends any active session and releases the engine.
func (c *SessionController) Close(ctx context.Context) error {
	c.End(ctx)
	return c.bridge.Teardown()
}

func (c *SessionController) abortStart(id string, subs []ports.Subscription) {
	c.mu.Lock()
	if c.current.id == id {
		c.current.detached = true
		c.current.subscriptions = nil
	}
	c.mu.Unlock()

	releaseSubscriptions(subs)
	if subs != nil {
		if err := c.bridge.Teardown(); err != nil {
			c.logger.Warn("speech engine teardown failed", "session", id, "error", err)
		}
	}

	c.mu.Lock()
	if c.current.id == id {
		c.current = idleSession()
	}
	c.mu.Unlock()
	c.events.SessionStateChanged(domain.SessionStatusIdle)
}

func (c *SessionController) listener(id string, kind domain.BridgeEventKind) func(domain.BridgeEvent) {
	return func(event domain.BridgeEvent) {
		switch kind {
		case domain.BridgeEventPartial, domain.BridgeEventFinal:
			c.applyTranscript(id, event.Text)
		case domain.BridgeEventError:
			c.recognitionError(id, event)
		case domain.BridgeEventEnd:
			c.logger.Debug("speech engine reported end of speech", "session", id)
		}
	}
}

func (c *SessionController) applyTranscript(id string, text string) {
	if text == "" {
		return
	}

	c.mu.Lock()
	if !c.current.acceptsEvents(id) {
		c.mu.Unlock()
		return
	}
	c.current.transcript = text
	onUpdate := c.current.onUpdate
	c.mu.Unlock()

	if onUpdate != nil {
		onUpdate(text)
	}
}

func (c *SessionController) recognitionError(id string, event domain.BridgeEvent) {
	c.mu.Lock()
	current := c.current.id == id && !c.current.detached
	c.mu.Unlock()
	if !current {
		return
	}

	recognitionErr := domain.RecognitionError{Message: "unknown recognition error"}
	if event.Error != nil {
		recognitionErr = *event.Error
	}

	c.logger.Warn("speech recognition error", "session", id, "error", recognitionErr.Error())
	c.reporter.Report(recognitionErr, map[string]string{"session": id, "component": "speech"})
	code := domain.ErrorCodeRecognition
	if strings.HasPrefix(recognitionErr.Code, "audio_") {
		code = domain.ErrorCodeAudioStream
	}
	c.events.SessionError(code, recognitionErr.Error())
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(domain.SessionStatus) {}
func (noopEventSink) PartialTranscript(string)                 {}
func (noopEventSink) IntentResolved(domain.CommandResult)      {}
func (noopEventSink) SessionError(domain.ErrorCode, string)    {}
func (noopEventSink) DeviceStatusChanged(domain.DeviceCommand) {}

type noopReporter struct{}

func (noopReporter) Report(error, map[string]string) {}
