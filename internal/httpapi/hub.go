package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

const defaultPermissionTimeout = 30 * time.Second

// ErrNoClient is returned by RequestPermission when nobody can answer.
var ErrNoClient = errors.New("no client connected to answer the permission prompt")

// Hub fans session events out to every connected client. It also stands in
// for the platform permission dialog by asking the clients.
type Hub struct {
	logger            *slog.Logger
	permissionTimeout time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	pending map[string]chan bool
}

func NewHub(logger *slog.Logger, permissionTimeout time.Duration) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if permissionTimeout <= 0 {
		permissionTimeout = defaultPermissionTimeout
	}
	return &Hub{
		logger:            logger.With("component", "hub"),
		permissionTimeout: permissionTimeout,
		clients:           map[*client]struct{}{},
		pending:           map[string]chan bool{},
	}
}

func (h *Hub) SessionStateChanged(state domain.SessionStatus) {
	h.broadcast(serverMessage{Type: msgState, State: state, Message: stateMessage(state)})
}

func (h *Hub) PartialTranscript(text string) {
	h.broadcast(serverMessage{Type: msgPartial, Text: text})
}

func (h *Hub) IntentResolved(result domain.CommandResult) {
	h.broadcast(serverMessage{Type: msgIntent, Result: &result, Message: intentMessage(result)})
}

func (h *Hub) SessionError(code domain.ErrorCode, detail string) {
	h.broadcast(serverMessage{Type: msgError, Code: string(code), Message: errorMessage(code, detail), Detail: detail})
}

func (h *Hub) DeviceStatusChanged(command domain.DeviceCommand) {
	h.broadcast(serverMessage{Type: msgDevice, Device: &command, Message: deviceMessage(command)})
}

// RequestPermission sends the prompt to every client and waits for the
// first answer.
func (h *Hub) RequestPermission(ctx context.Context, prompt ports.PermissionPrompt) (bool, error) {
	id := uuid.NewString()
	answer := make(chan bool, 1)

	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return false, ErrNoClient
	}
	h.pending[id] = answer
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	h.broadcast(serverMessage{
		Type:           msgPermissionRequest,
		ID:             id,
		Title:          prompt.Title,
		Message:        prompt.Message,
		PositiveButton: prompt.PositiveButton,
	})

	timer := time.NewTimer(h.permissionTimeout)
	defer timer.Stop()
	select {
	case granted := <-answer:
		return granted, nil
	case <-timer.C:
		return false, errors.New("permission prompt timed out")
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// answerPermission resolves the prompt with id, or every open prompt when
// id is empty.
func (h *Hub) answerPermission(id string, granted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, answer := range h.pending {
		if id != "" && key != id {
			continue
		}
		select {
		case answer <- granted:
		default:
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", "clients", count)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", "clients", count)
}

// ClientCount reports how many sockets are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode event", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.enqueue(payload) {
			h.logger.Warn("dropping slow client")
			delete(h.clients, c)
			close(c.send)
			c.closeConn()
		}
	}
}

// sendTo queues msg for one client only.
func (h *Hub) sendTo(c *client, msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		c.enqueue(payload)
	}
}
