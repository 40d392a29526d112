// Package speech adapts microphone capture and a streaming transcription
// provider into the event-driven speech engine the session controller drives.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

// Config controls capture and streaming for a bridge.
type Config struct {
	Engine         string
	Audio          ports.AudioConfig
	Streaming      ports.StreamingConfig
	ChunkSize      int
	StreamingGrace time.Duration
	StopTimeout    time.Duration
}

// StreamingBridge implements ports.SpeechBridge.
type StreamingBridge struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      Config
	logger   *slog.Logger

	listenersMu sync.Mutex
	listeners   map[uint64]listener
	nextID      uint64

	mu     sync.Mutex
	active *activeStream
}

type listener struct {
	kind domain.BridgeEventKind
	fn   func(domain.BridgeEvent)
}

type activeStream struct {
	cancel     context.CancelFunc
	audio      ports.AudioSession
	stream     ports.StreamingSession
	eventsDone chan struct{}
	audioDone  chan struct{}
	// stopping is set once Stop or Teardown begins; capture errors after
	// that are part of shutting the recorder down.
	stopping atomic.Bool
}

// NewStreamingBridge builds a bridge. A nil provider makes every Start fail
// with domain.ErrEngineUnavailable.
func NewStreamingBridge(audio ports.AudioCapture, provider ports.TranscriptionProvider, cfg Config, logger *slog.Logger) *StreamingBridge {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 4 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamingBridge{
		audio:     audio,
		provider:  provider,
		cfg:       cfg,
		logger:    logger,
		listeners: map[uint64]listener{},
	}
}

// AddListener registers fn for events of kind until the subscription is removed.
func (b *StreamingBridge) AddListener(kind domain.BridgeEventKind, fn func(domain.BridgeEvent)) ports.Subscription {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = listener{kind: kind, fn: fn}
	return &subscription{bridge: b, id: id}
}

// Start opens the provider stream and the microphone. A previous stream
// still open is discarded first.
func (b *StreamingBridge) Start(ctx context.Context, locale string, opts ports.StartOptions) error {
	if b.provider == nil || b.audio == nil {
		return domain.ErrEngineUnavailable
	}
	if opts.Engine != "" && b.cfg.Engine != "" && !strings.EqualFold(opts.Engine, b.cfg.Engine) {
		return fmt.Errorf("%w: engine %q is not configured", domain.ErrEngineUnavailable, opts.Engine)
	}
	if opts.PreferOffline {
		b.logger.Debug("offline recognition unavailable, using streaming engine", "engine", b.cfg.Engine)
	}

	b.mu.Lock()
	previous := b.active
	b.active = nil
	b.mu.Unlock()
	if previous != nil {
		b.abort(previous)
	}

	streamCfg := b.cfg.Streaming
	streamCfg.Language = locale
	streamCfg.InterimResults = opts.PartialResults

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := b.provider.StartStreaming(sessionCtx, streamCfg)
	if err != nil {
		cancel()
		if errors.Is(err, domain.ErrEngineUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrEngineStartFailure, err)
	}

	audioSession, err := b.audio.Start(sessionCtx, b.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return fmt.Errorf("%w: %w", domain.ErrEngineStartFailure, err)
	}

	active := &activeStream{
		cancel:     cancel,
		audio:      audioSession,
		stream:     stream,
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}

	b.mu.Lock()
	b.active = active
	b.mu.Unlock()

	go b.consumeTranscripts(active)
	go pumpAudioChunks(active.audio, active.stream, b.cfg.ChunkSize, b.pumpErrorHandler(active), active.audioDone)
	return nil
}

func (b *StreamingBridge) pumpErrorHandler(active *activeStream) func(code string, err error) {
	return func(code string, err error) {
		if active.stopping.Load() {
			b.logger.Debug("audio pump ended during stop", "code", code, "error", err)
			return
		}
		b.emitError(code, err)
	}
}

// Stop ends capture, lets the provider flush its last results and waits for
// them to be delivered.
func (b *StreamingBridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	active := b.active
	b.active = nil
	b.mu.Unlock()
	if active == nil {
		return nil
	}
	defer active.cancel()
	active.stopping.Store(true)

	// The recorder flushes on stop; the pump forwards that tail before the
	// provider stream is told no more audio is coming.
	audioErr := active.audio.Stop()
	drain := time.NewTimer(b.cfg.StopTimeout)
	select {
	case <-active.audioDone:
		drain.Stop()
	case <-drain.C:
		b.logger.Warn("audio pump did not drain in time")
		_ = active.audio.Close()
		_ = active.stream.Close()
		<-active.audioDone
	}

	if b.cfg.StreamingGrace > 0 {
		timer := time.NewTimer(b.cfg.StreamingGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	_ = active.stream.CloseSend()
	if err := waitForStream(active.stream, b.cfg.StopTimeout); err != nil {
		b.logger.Debug("transcription stream closed with error", "error", err)
	}
	<-active.eventsDone
	_ = active.audio.Close()

	if audioErr != nil {
		return fmt.Errorf("failed to stop audio capture cleanly: %w", audioErr)
	}
	return nil
}

// Teardown discards any open stream. It is safe to call repeatedly.
func (b *StreamingBridge) Teardown() error {
	b.mu.Lock()
	active := b.active
	b.active = nil
	b.mu.Unlock()
	if active != nil {
		b.abort(active)
	}
	return nil
}

func (b *StreamingBridge) abort(active *activeStream) {
	active.stopping.Store(true)
	active.cancel()
	_ = active.audio.Stop()
	_ = active.audio.Close()
	_ = active.stream.Close()
	<-active.eventsDone
	<-active.audioDone
}

func (b *StreamingBridge) consumeTranscripts(active *activeStream) {
	defer close(active.eventsDone)

	for event := range active.stream.Events() {
		text := strings.TrimSpace(event.Text)
		if text == "" {
			continue
		}
		kind := domain.BridgeEventPartial
		if event.Kind == domain.TranscriptKindFinal {
			kind = domain.BridgeEventFinal
		}
		b.emit(domain.BridgeEvent{Kind: kind, Text: text})
	}

	if err := active.stream.Wait(); err != nil {
		b.emitError("stream", err)
	}
	b.emit(domain.BridgeEvent{Kind: domain.BridgeEventEnd})
}

func (b *StreamingBridge) emitError(code string, err error) {
	b.emit(domain.BridgeEvent{
		Kind:  domain.BridgeEventError,
		Error: &domain.RecognitionError{Code: code, Message: err.Error()},
	})
}

func (b *StreamingBridge) emit(event domain.BridgeEvent) {
	b.listenersMu.Lock()
	targets := make([]func(domain.BridgeEvent), 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.kind == event.Kind {
			targets = append(targets, l.fn)
		}
	}
	b.listenersMu.Unlock()

	for _, fn := range targets {
		fn(event)
	}
}

func (b *StreamingBridge) listenerCount() int {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	return len(b.listeners)
}

type subscription struct {
	bridge *StreamingBridge
	id     uint64
	once   sync.Once
}

func (s *subscription) Remove() {
	s.once.Do(func() {
		s.bridge.listenersMu.Lock()
		delete(s.bridge.listeners, s.id)
		s.bridge.listenersMu.Unlock()
	})
}
