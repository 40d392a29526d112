// Package deepgram streams microphone audio to the Deepgram live
// transcription websocket.
package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

const (
	defaultBaseURL = "https://api.deepgram.com/v1"
	defaultModel   = "nova-2"
)

// Config controls Deepgram websocket settings. Language is used only when
// the streaming request carries no locale.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// Keywords boosts recognition of command vocabulary such as section aliases.
	Keywords []string
}

// Provider implements ports.TranscriptionProvider.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer}
}

// StartStreaming dials the listen endpoint. The session lives until ctx is
// cancelled or the caller closes it.
func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: DEEPGRAM_API_KEY is not configured", domain.ErrEngineUnavailable)
	}

	listenURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, listenURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to Deepgram (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	session := newStreamingSession(conn)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()
	return session, nil
}

func buildListenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	listenURL, err := url.Parse(strings.TrimRight(base, "/") + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	model := providerCfg.Model
	if model == "" {
		model = defaultModel
	}
	language := strings.TrimSpace(streamCfg.Language)
	if language == "" {
		language = providerCfg.Language
	}

	query := listenURL.Query()
	query.Set("model", model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", strconv.Itoa(streamCfg.SampleRate))
	query.Set("channels", strconv.Itoa(streamCfg.Channels))
	query.Set("interim_results", strconv.FormatBool(streamCfg.InterimResults))
	query.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	if language != "" {
		query.Set("language", language)
	}
	for _, keyword := range providerCfg.Keywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			query.Add("keywords", keyword)
		}
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
