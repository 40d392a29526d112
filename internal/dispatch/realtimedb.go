// Package dispatch hands resolved rotation commands to the wardrobe device.
//
// The device polls a Firebase Realtime Database node. A command is written as
// status "pendente"; the device moves it through "em_andamento" to
// "concluido" or "erro".
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

const (
	rotationPath       = "comandoGirar.json"
	defaultPollPeriod  = time.Second
	defaultHTTPTimeout = 10 * time.Second
)

var (
	_ ports.CommandDispatcher = (*RealtimeDBDispatcher)(nil)
	_ ports.DeviceMonitor     = (*RealtimeDBDispatcher)(nil)
)

// RealtimeDBConfig points the dispatcher at a Realtime Database instance.
type RealtimeDBConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// RealtimeDBDispatcher implements ports.CommandDispatcher over the
// Realtime Database REST API.
type RealtimeDBDispatcher struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRealtimeDBDispatcher(cfg RealtimeDBConfig, logger *slog.Logger) (*RealtimeDBDispatcher, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("realtime database URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid realtime database URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeDBDispatcher{
		baseURL:    base,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "dispatch"),
	}, nil
}

type rotationCommand struct {
	Section   domain.Intent       `json:"secao"`
	Status    domain.DeviceStatus `json:"status"`
	Timestamp json.RawMessage     `json:"timestamp"`
	ID        string              `json:"id,omitempty"`
}

// serverTimestamp asks the database to stamp the write with its own clock.
var serverTimestamp = json.RawMessage(`{".sv":"timestamp"}`)

// Dispatch overwrites the pending rotation command. Only one command exists
// at a time; a newer write replaces an unprocessed one.
func (d *RealtimeDBDispatcher) Dispatch(ctx context.Context, intent domain.Intent) (string, error) {
	if intent == domain.IntentNone {
		return "", domain.ErrNothingToDispatch
	}
	if _, ok := domain.ParseIntent(string(intent)); !ok {
		return "", fmt.Errorf("unknown wardrobe section %q", intent)
	}

	command := rotationCommand{
		Section:   intent,
		Status:    domain.DeviceStatusPending,
		Timestamp: serverTimestamp,
		ID:        uuid.NewString(),
	}
	body, err := json.Marshal(command)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rotation command: %w", err)
	}

	resp, err := d.do(ctx, http.MethodPut, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return "", err
	}

	d.logger.Info("rotation command sent", "section", intent, "command_id", command.ID)
	return command.ID, nil
}

// Status reads the current rotation command. ok is false when the node is empty.
func (d *RealtimeDBDispatcher) Status(ctx context.Context) (state domain.DeviceCommand, ok bool, err error) {
	resp, err := d.do(ctx, http.MethodGet, nil)
	if err != nil {
		return domain.DeviceCommand{}, false, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return domain.DeviceCommand{}, false, err
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.DeviceCommand{}, false, fmt.Errorf("failed to read rotation command: %w", err)
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.DeviceCommand{}, false, nil
	}

	var stored struct {
		Section   string              `json:"secao"`
		Status    domain.DeviceStatus `json:"status"`
		Timestamp int64               `json:"timestamp"`
		ID        string              `json:"id"`
	}
	if err := json.Unmarshal(payload, &stored); err != nil {
		return domain.DeviceCommand{}, false, fmt.Errorf("failed to decode rotation command: %w", err)
	}

	section, _ := domain.ParseIntent(stored.Section)
	state = domain.DeviceCommand{ID: stored.ID, Section: section, Status: stored.Status}
	if stored.Timestamp > 0 {
		state.Timestamp = time.UnixMilli(stored.Timestamp)
	}
	return state, true, nil
}

// AwaitCompletion polls until the command identified by commandID finishes.
// A command replaced by a newer one is reported as finished with the newer
// state.
func (d *RealtimeDBDispatcher) AwaitCompletion(ctx context.Context, commandID string, every time.Duration) (domain.DeviceCommand, error) {
	if every <= 0 {
		every = defaultPollPeriod
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		state, ok, err := d.Status(ctx)
		if err != nil {
			return domain.DeviceCommand{}, err
		}
		switch {
		case !ok:
			return domain.DeviceCommand{}, fmt.Errorf("rotation command %s disappeared", commandID)
		case state.ID != "" && state.ID != commandID:
			return state, nil
		case state.Status == domain.DeviceStatusDone:
			return state, nil
		case state.Status == domain.DeviceStatusFailed:
			return state, domain.ErrCommandFailed
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *RealtimeDBDispatcher) do(ctx context.Context, method string, body []byte) (*http.Response, error) {
	endpoint := d.baseURL + "/" + rotationPath
	if d.authToken != "" {
		endpoint += "?auth=" + url.QueryEscape(d.authToken)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach realtime database: %w", err)
	}
	return resp, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("realtime database error: %s - %s", resp.Status, strings.TrimSpace(string(detail)))
}
