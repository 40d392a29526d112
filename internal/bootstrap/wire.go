package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/samber/lo"

	"modsy/internal/audio"
	"modsy/internal/config"
	"modsy/internal/dispatch"
	"modsy/internal/domain"
	"modsy/internal/httpapi"
	"modsy/internal/journal"
	"modsy/internal/permission"
	"modsy/internal/ports"
	"modsy/internal/providers/deepgram"
	"modsy/internal/rules"
	"modsy/internal/speech"
	"modsy/internal/telemetry"
	"modsy/internal/usecase"
	"modsy/internal/voice"
)

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Logger     *slog.Logger
	Reporter   *telemetry.SentryReporter
	Controller *usecase.SessionController
	Pipeline   *usecase.CommandPipeline
	Hub        *httpapi.Hub
	Server     *httpapi.Server
	Journal    ports.Journal
}

// Build loads configuration and wires all backend dependencies. Logs go to logOut.
func Build(ctx context.Context, logOut io.Writer) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(ctx, cfg, logOut)
}

// BuildWithConfig wires dependencies from an already loaded configuration.
func BuildWithConfig(ctx context.Context, cfg config.Config, logOut io.Writer) (Services, error) {
	logger, err := telemetry.NewLogger(logOut, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return Services{}, err
	}

	reporter, err := telemetry.NewSentryReporter(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
	}, logger)
	if err != nil {
		return Services{}, err
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	aliases, err := voice.LoadAliasTable(cfg.Aliases.Path, voice.DefaultAliases())
	if err != nil {
		return Services{}, err
	}

	dispatcher, monitor, err := newDispatcher(cfg.Dispatch, logger)
	if err != nil {
		return Services{}, err
	}

	engine, err := resolveEngine(cfg.Speech.Engine, runtime.GOOS, logger)
	if err != nil {
		return Services{}, err
	}
	cfg.Speech.Engine = engine

	store, err := journal.Open(ctx, cfg.Journal.DSN)
	if err != nil {
		return Services{}, err
	}

	hub := httpapi.NewHub(logger, cfg.Permission.Timeout)
	gate := permission.NewGate(permission.Model(cfg.Permission.Model), hub, logger)

	bridge := speech.NewStreamingBridge(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logger),
		deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
			Keywords:    keywords(cfg.Deepgram, aliases),
		}),
		speech.Config{
			Engine: engine,
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				Encoding:   "linear16",
			},
			ChunkSize:      cfg.Session.ChunkSize,
			StreamingGrace: cfg.Session.StreamingGrace,
			StopTimeout:    cfg.Session.StopTimeout,
		},
		logger.With("component", "speech"),
	)

	controller := usecase.NewSessionController(
		bridge,
		gate,
		hub,
		reporter,
		logger.With("component", "session"),
		usecase.Config{Locale: cfg.Speech.Locale, Engine: engine},
	)
	pipeline := usecase.NewCommandPipeline(
		controller,
		rulesEngine,
		voice.NewResolver(aliases),
		dispatcher,
		store,
		hub,
		logger.With("component", "commands"),
	)
	var device ports.DeviceMonitor
	if monitor != nil {
		pipeline.WatchDevice(monitor, cfg.Dispatch.AwaitTimeout, cfg.Dispatch.PollInterval)
		device = monitor
	}
	server := httpapi.NewServer(pipeline, store, device, hub, reporter.Hub(), logger.With("component", "http"))

	return Services{
		Config:     cfg,
		Logger:     logger,
		Reporter:   reporter,
		Controller: controller,
		Pipeline:   pipeline,
		Hub:        hub,
		Server:     server,
		Journal:    store,
	}, nil
}

// Close stops any open session and device watch, flushes error reports and
// closes the journal.
func (s Services) Close(ctx context.Context) error {
	var errs []error
	if s.Controller != nil {
		if err := s.Controller.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	if s.Pipeline != nil {
		s.Pipeline.Close()
	}
	if s.Reporter != nil {
		s.Reporter.Flush(2 * time.Second)
	}
	if s.Journal != nil {
		if err := s.Journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	return errors.Join(errs...)
}

// newDispatcher returns the command channel and, when the channel can read
// the wardrobe back, the monitor for it.
func newDispatcher(cfg config.DispatchConfig, logger *slog.Logger) (ports.CommandDispatcher, *dispatch.RealtimeDBDispatcher, error) {
	if cfg.RealtimeDBURL == "" {
		logger.Warn("no realtime database configured, commands are only logged")
		return dispatch.NewLogDispatcher(logger), nil, nil
	}
	db, err := dispatch.NewRealtimeDBDispatcher(dispatch.RealtimeDBConfig{
		BaseURL:   cfg.RealtimeDBURL,
		AuthToken: cfg.AuthToken,
		Timeout:   cfg.Timeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return db, db, nil
}

// streamingEngine is the only recognizer this process can drive.
const streamingEngine = "deepgram"

// resolveEngine picks the engine sessions request. An unset engine whose
// platform default is not the streaming engine falls back to it with a
// warning; an explicit engine that is not available is a configuration error.
func resolveEngine(configured, goos string, logger *slog.Logger) (string, error) {
	if configured == "" {
		platform := usecase.DefaultEngine(goos)
		if platform != streamingEngine {
			logger.Warn("platform recognizer unavailable, using streaming engine", "platform", platform, "engine", streamingEngine)
		}
		return streamingEngine, nil
	}
	if !strings.EqualFold(configured, streamingEngine) {
		return "", fmt.Errorf("%w: %q (only %q is supported)", domain.ErrEngineUnavailable, configured, streamingEngine)
	}
	return streamingEngine, nil
}

// keywords merges configured keywords with the alias phrases when boosting is on.
func keywords(cfg config.DeepgramConfig, aliases *voice.AliasTable) []string {
	out := append([]string(nil), cfg.Keywords...)
	if cfg.BoostAliases {
		for _, intent := range aliases.Categories() {
			out = append(out, aliases.Phrases(intent)...)
		}
	}
	return lo.Uniq(out)
}
