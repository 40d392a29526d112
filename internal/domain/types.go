package domain

import (
	"errors"
	"time"
)

// SessionStatus models the push-to-talk listening lifecycle.
type SessionStatus string

const (
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusStarting  SessionStatus = "starting"
	SessionStatusListening SessionStatus = "listening"
	SessionStatusStopping  SessionStatus = "stopping"
)

// Intent is a wardrobe section a voice command can target.
type Intent string

const (
	IntentNone     Intent = ""
	IntentSuperior Intent = "superior"
	IntentInferior Intent = "inferior"
	IntentFootwear Intent = "calcado"
)

// IntentPriority is the order in which categories are tested by the resolver.
var IntentPriority = []Intent{IntentSuperior, IntentInferior, IntentFootwear}

// ParseIntent accepts the wire names used by the device channel and the UI.
func ParseIntent(value string) (Intent, bool) {
	switch value {
	case "superior":
		return IntentSuperior, true
	case "inferior":
		return IntentInferior, true
	case "calcado", "calçado":
		return IntentFootwear, true
	default:
		return IntentNone, false
	}
}

// DisplayName is the spoken/printed form of the section.
func (i Intent) DisplayName() string {
	if i == IntentFootwear {
		return "calçado"
	}
	return string(i)
}

var (
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrEngineUnavailable  = errors.New("speech engine unavailable")
	ErrEngineStartFailure = errors.New("speech engine failed to start")
	ErrNoActiveSession    = errors.New("no active listening session")
	ErrNothingToDispatch  = errors.New("no intent to dispatch")
	ErrCommandFailed      = errors.New("wardrobe reported command failure")
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodePermission  ErrorCode = "permission"
	ErrorCodeEngineStart ErrorCode = "engine_start"
	ErrorCodeEngineStop  ErrorCode = "engine_stop"
	ErrorCodeRecognition ErrorCode = "recognition"
	ErrorCodeAudioStream ErrorCode = "audio_stream"
	ErrorCodeRules       ErrorCode = "rules"
	ErrorCodeDispatch    ErrorCode = "dispatch"
	ErrorCodeJournal     ErrorCode = "journal"
	ErrorCodeDevice      ErrorCode = "device"
)

// BridgeEventKind names one of the speech engine event streams.
type BridgeEventKind string

const (
	BridgeEventPartial BridgeEventKind = "partial"
	BridgeEventFinal   BridgeEventKind = "final"
	BridgeEventError   BridgeEventKind = "error"
	BridgeEventEnd     BridgeEventKind = "end"
)

// BridgeEventKinds lists every stream a session subscribes to.
var BridgeEventKinds = []BridgeEventKind{BridgeEventPartial, BridgeEventFinal, BridgeEventError, BridgeEventEnd}

// RecognitionError describes an error reported by the engine mid-session.
type RecognitionError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e RecognitionError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// BridgeEvent is delivered to listeners of the speech engine.
type BridgeEvent struct {
	Kind  BridgeEventKind   `json:"kind"`
	Text  string            `json:"text,omitempty"`
	Error *RecognitionError `json:"error,omitempty"`
}

// TranscriptKind identifies whether a provider event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionStatus `json:"state"`
	Listening bool          `json:"listening"`
	SessionID string        `json:"sessionId,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// CommandResult is returned once a gesture is released and its transcript resolved.
type CommandResult struct {
	SessionID  string `json:"sessionId,omitempty"`
	Transcript string `json:"transcript"`
	Corrected  string `json:"corrected"`
	Intent     Intent `json:"intent"`
	Recognized bool   `json:"recognized"`
	Dispatched bool   `json:"dispatched"`
	CommandID  string `json:"commandId,omitempty"`
}

// DeviceStatus is the progress marker the wardrobe writes back on a command.
type DeviceStatus string

const (
	DeviceStatusPending    DeviceStatus = "pendente"
	DeviceStatusInProgress DeviceStatus = "em_andamento"
	DeviceStatusDone       DeviceStatus = "concluido"
	DeviceStatusFailed     DeviceStatus = "erro"
)

// Finished reports whether the device is done with the command.
func (s DeviceStatus) Finished() bool {
	return s == DeviceStatusDone || s == DeviceStatusFailed
}

// DeviceCommand is the rotation command the device currently holds.
type DeviceCommand struct {
	ID        string       `json:"id"`
	Section   Intent       `json:"section"`
	Status    DeviceStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp,omitzero"`
}

// CommandRecord is one journaled gesture or manual rotation.
type CommandRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId,omitempty"`
	Source     string    `json:"source"`
	Transcript string    `json:"transcript"`
	Corrected  string    `json:"corrected"`
	Intent     Intent    `json:"intent"`
	Dispatched bool      `json:"dispatched"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
}

const (
	CommandSourceVoice  = "voice"
	CommandSourceManual = "manual"
)
