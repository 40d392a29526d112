// Package httpapi exposes the push-to-talk gesture over a WebSocket plus a
// few JSON endpoints for status and history.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

// Commands is the gesture flow driven by connected clients.
type Commands interface {
	Press(ctx context.Context, onUpdate func(text string)) error
	Release(ctx context.Context) (domain.CommandResult, error)
	Rotate(ctx context.Context, intent domain.Intent) (domain.CommandResult, error)
	Status() domain.Status
}

// Server routes HTTP and WebSocket traffic.
type Server struct {
	pipeline Commands
	journal  ports.Journal
	device   ports.DeviceMonitor
	hub      *Hub
	logger   *slog.Logger
	recovery *sentry.Hub
	upgrader websocket.Upgrader
}

// NewServer builds the router. device may be nil when no wardrobe channel is
// configured. recovery may be nil, in which case panics are only logged.
func NewServer(pipeline Commands, journal ports.Journal, device ports.DeviceMonitor, hub *Hub, recovery *sentry.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pipeline: pipeline,
		journal:  journal,
		device:   device,
		hub:      hub,
		logger:   logger.With("component", "httpapi"),
		recovery: recovery,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /commands", s.handleCommands)
	mux.HandleFunc("POST /commands/rotate", s.handleRotate)
	mux.HandleFunc("GET /device", s.handleDevice)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.withRecovery(mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.ClientCount()})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list commands", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	if records == nil {
		records = []domain.CommandRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": records})
}

// handleDevice reports the rotation command the wardrobe currently holds.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		writeError(w, http.StatusServiceUnavailable, "no wardrobe channel configured")
		return
	}
	command, ok, err := s.device.Status(r.Context())
	if err != nil {
		s.logger.Error("failed to read wardrobe status", "error", err)
		writeError(w, http.StatusBadGateway, "failed to read wardrobe status")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"command": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": command, "message": deviceMessage(command)})
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Section string `json:"section"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	intent, ok := domain.ParseIntent(req.Section)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown section")
		return
	}

	result, err := s.pipeline.Rotate(r.Context(), intent)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := newClient(conn)
	s.hub.register(c)
	go c.writeLoop()
	state := s.pipeline.Status().State
	s.hub.sendTo(c, serverMessage{Type: msgState, State: state, Message: stateMessage(state)})

	work := make(chan clientMessage, 8)
	go s.runCommands(c, work)

	s.readLoop(c, work)
	close(work)
	s.hub.unregister(c)
}

func (s *Server) readLoop(c *client, work chan<- clientMessage) {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.hub.sendTo(c, serverMessage{Type: msgError, Code: codeBadRequest, Detail: "invalid JSON message"})
			continue
		}

		switch msg.Type {
		case msgPermission:
			s.hub.answerPermission(msg.ID, msg.Granted)
		case msgPress, msgRelease, msgRotate:
			select {
			case work <- msg:
			default:
				s.hub.sendTo(c, serverMessage{Type: msgError, Code: codeUnavailable, Detail: "too many pending commands"})
			}
		default:
			s.hub.sendTo(c, serverMessage{Type: msgError, Code: codeBadRequest, Detail: "unknown message type " + strconv.Quote(msg.Type)})
		}
	}
}

// runCommands executes one client's gestures in order. It runs apart from
// readLoop so a permission answer can arrive while Press is waiting for it.
// A gesture still held when the client goes away is released.
func (s *Server) runCommands(c *client, work <-chan clientMessage) {
	ctx := context.Background()
	pressed := false

	for msg := range work {
		switch msg.Type {
		case msgPress:
			if err := s.pipeline.Press(ctx, nil); err != nil {
				s.logger.Debug("press rejected", "error", err)
				continue
			}
			pressed = true
		case msgRelease:
			pressed = false
			if _, err := s.pipeline.Release(ctx); errors.Is(err, domain.ErrNoActiveSession) {
				s.hub.sendTo(c, serverMessage{Type: msgError, Code: codeNoSession, Detail: err.Error()})
			}
		case msgRotate:
			intent, ok := domain.ParseIntent(msg.Section)
			if !ok {
				s.hub.sendTo(c, serverMessage{Type: msgError, Code: codeBadRequest, Detail: "unknown section " + strconv.Quote(msg.Section)})
				continue
			}
			_, _ = s.pipeline.Rotate(ctx, intent)
		}
	}

	if pressed && s.pipeline.Status().Listening {
		s.logger.Info("client left while holding, releasing")
		releaseCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_, _ = s.pipeline.Release(releaseCtx)
	}
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("handler panic", "panic", err, "path", r.URL.Path)
				if s.recovery != nil {
					hub := s.recovery.Clone()
					hub.Scope().SetRequest(r)
					hub.RecoverWithContext(r.Context(), err)
					hub.Flush(2 * time.Second)
				}
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
