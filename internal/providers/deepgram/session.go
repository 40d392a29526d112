package deepgram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"modsy/internal/domain"
)

var errSendClosed = errors.New("audio stream is already closed")

const closeStreamMessage = `{"type":"CloseStream"}`

type streamingSession struct {
	conn *websocket.Conn

	events chan domain.TranscriptEvent
	audio  chan []byte
	done   chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	sendMu     sync.RWMutex
	sendClosed bool

	closing       atomic.Bool
	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func newStreamingSession(conn *websocket.Conn) *streamingSession {
	s := &streamingSession{
		conn:   conn,
		events: make(chan domain.TranscriptEvent, 64),
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errSendClosed
	}

	select {
	case s.audio <- append([]byte(nil), chunk...):
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

// CloseSend stops accepting audio; the writer then asks Deepgram to flush
// its remaining results.
func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		// Closing the socket first unblocks a SendAudio waiting on a full buffer.
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			if s.closing.Load() {
				return
			}
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMessage)); err != nil && !s.closing.Load() {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closing.Load() {
				s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			}
			return
		}

		event, err := decodeMessage(payload)
		if err != nil {
			s.setErr(err)
			return
		}
		if event.Text != "" {
			s.events <- event
		}
	}
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// decodeMessage turns one provider frame into a transcript event. Frames that
// carry no transcript (metadata, speech started, malformed JSON) produce an
// empty event. A provider Error frame is returned as an error.
func decodeMessage(payload []byte) (domain.TranscriptEvent, error) {
	var response listenResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return domain.TranscriptEvent{}, nil
	}

	if strings.EqualFold(response.Type, "Error") {
		message := strings.TrimSpace(response.Message)
		if message == "" {
			message = strings.TrimSpace(response.Description)
		}
		if message == "" {
			message = "deepgram returned an unknown error"
		}
		return domain.TranscriptEvent{}, errors.New(message)
	}

	if len(response.Channel.Alternatives) == 0 {
		return domain.TranscriptEvent{}, nil
	}
	text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
	if text == "" {
		return domain.TranscriptEvent{}, nil
	}

	event := domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text, IsSpeechFinal: response.SpeechFinal}
	if response.IsFinal || response.SpeechFinal {
		event.Kind = domain.TranscriptKindFinal
	}
	return event, nil
}
