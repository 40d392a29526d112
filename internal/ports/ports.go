package ports

import (
	"context"
	"io"
	"time"

	"modsy/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	Language       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// StartOptions are the engine options passed when a listening session starts.
type StartOptions struct {
	PartialResults bool
	PreferOffline  bool
	Engine         string
}

// Subscription is an opaque listener handle returned by SpeechBridge.AddListener.
type Subscription interface {
	Remove()
}

// SpeechBridge wraps an asynchronous speech recognition engine.
type SpeechBridge interface {
	Start(ctx context.Context, locale string, opts StartOptions) error
	Stop(ctx context.Context) error
	Teardown() error
	AddListener(kind domain.BridgeEventKind, fn func(domain.BridgeEvent)) Subscription
}

// PermissionPrompt carries the texts shown by the platform permission dialog.
type PermissionPrompt struct {
	Title          string
	Message        string
	PositiveButton string
}

// PermissionRequester asks the platform (or a remote client standing in for it) for access.
type PermissionRequester interface {
	RequestPermission(ctx context.Context, prompt PermissionPrompt) (bool, error)
}

// PermissionGate authorizes microphone use before a session starts.
type PermissionGate interface {
	RequestMicrophoneAccess(ctx context.Context) (bool, error)
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// IntentResolver classifies a transcript into a wardrobe section.
type IntentResolver interface {
	Resolve(raw string) domain.Intent
}

// CommandDispatcher hands a resolved intent to the wardrobe device.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, intent domain.Intent) (commandID string, err error)
}

// DeviceMonitor reads back the progress the wardrobe reports on commands.
type DeviceMonitor interface {
	Status(ctx context.Context) (command domain.DeviceCommand, ok bool, err error)
	AwaitCompletion(ctx context.Context, commandID string, every time.Duration) (domain.DeviceCommand, error)
}

// Journal persists command outcomes.
type Journal interface {
	Record(ctx context.Context, record domain.CommandRecord) error
	Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error)
	Close() error
}

// ErrorReporter forwards non-fatal errors to an external tracker.
type ErrorReporter interface {
	Report(err error, tags map[string]string)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionStatus)
	PartialTranscript(text string)
	IntentResolved(result domain.CommandResult)
	SessionError(code domain.ErrorCode, detail string)
	DeviceStatusChanged(command domain.DeviceCommand)
}
