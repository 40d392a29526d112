// Package config resolves runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config stores runtime configuration for the voice command service.
type Config struct {
	Speech     SpeechConfig
	Deepgram   DeepgramConfig
	Audio      AudioConfig
	Rules      RulesConfig
	Aliases    AliasConfig
	Session    SessionConfig
	Permission PermissionConfig
	Dispatch   DispatchConfig
	Journal    JournalConfig
	Log        LogConfig
	Sentry     SentryConfig
	HTTP       HTTPConfig
}

type SpeechConfig struct {
	Locale string `env:"MODSY_LOCALE" envDefault:"pt-BR"`
	// Engine is empty unless set; the platform default applies then.
	Engine string `env:"MODSY_SPEECH_ENGINE"`
}

type DeepgramConfig struct {
	APIKey      string   `env:"DEEPGRAM_API_KEY"`
	APIBaseURL  string   `env:"DEEPGRAM_API_BASE" envDefault:"https://api.deepgram.com/v1"`
	Model       string   `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`
	Language    string   `env:"DEEPGRAM_LANGUAGE"`
	SmartFormat bool     `env:"DEEPGRAM_SMART_FORMAT" envDefault:"false"`
	Keywords    []string `env:"DEEPGRAM_KEYWORDS" envSeparator:","`
	// BoostAliases adds every alias phrase to Keywords.
	BoostAliases bool `env:"DEEPGRAM_BOOST_ALIASES" envDefault:"true"`
}

type AudioConfig struct {
	RecorderCommand string `env:"MODSY_FFMPEG_COMMAND" envDefault:"ffmpeg"`
	InputFormat     string `env:"MODSY_AUDIO_INPUT_FORMAT" envDefault:"pulse"`
	InputDevice     string `env:"MODSY_AUDIO_INPUT_DEVICE" envDefault:"default"`
	SampleRate      int    `env:"MODSY_SAMPLE_RATE" envDefault:"16000"`
	Channels        int    `env:"MODSY_CHANNELS" envDefault:"1"`
}

type RulesConfig struct {
	Path           string `env:"MODSY_RULES_FILE"`
	IterationLimit int    `env:"MODSY_RULE_ITERATION_LIMIT" envDefault:"30"`
}

type AliasConfig struct {
	Path string `env:"MODSY_ALIAS_FILE"`
}

type SessionConfig struct {
	ChunkSize      int           `env:"MODSY_AUDIO_CHUNK_SIZE" envDefault:"4096"`
	StreamingGrace time.Duration `env:"MODSY_STREAMING_GRACE" envDefault:"300ms"`
	StopTimeout    time.Duration `env:"MODSY_STOP_TIMEOUT" envDefault:"4s"`
}

type PermissionConfig struct {
	// Model is auto, explicit or none.
	Model   string        `env:"MODSY_PERMISSION_MODEL" envDefault:"auto"`
	Timeout time.Duration `env:"MODSY_PERMISSION_TIMEOUT" envDefault:"30s"`
}

type DispatchConfig struct {
	RealtimeDBURL string        `env:"MODSY_RTDB_URL"`
	AuthToken     string        `env:"MODSY_RTDB_AUTH"`
	Timeout       time.Duration `env:"MODSY_DISPATCH_TIMEOUT" envDefault:"10s"`
	// AwaitTimeout bounds how long a dispatched rotation is followed.
	AwaitTimeout time.Duration `env:"MODSY_DEVICE_AWAIT_TIMEOUT" envDefault:"30s"`
	PollInterval time.Duration `env:"MODSY_DEVICE_POLL_INTERVAL" envDefault:"1s"`
}

type JournalConfig struct {
	// DSN is a SQLite path, a postgres:// URL, or empty to keep nothing.
	DSN string `env:"MODSY_JOURNAL_DSN"`
}

type LogConfig struct {
	Format string `env:"MODSY_LOG_FORMAT" envDefault:"text"`
	Level  string `env:"MODSY_LOG_LEVEL" envDefault:"info"`
}

type SentryConfig struct {
	DSN         string `env:"SENTRY_DSN"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Release     string `env:"MODSY_RELEASE"`
}

type HTTPConfig struct {
	Addr string `env:"MODSY_HTTP_ADDR" envDefault:":8080"`
}

// Load reads the environment, then applies fallbacks for unset files and
// out-of-range numbers. Values that cannot be parsed are an error.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if home, err := os.UserHomeDir(); err == nil {
		configDir := filepath.Join(home, ".config", "modsy")
		if strings.TrimSpace(cfg.Rules.Path) == "" {
			cfg.Rules.Path = firstExisting(filepath.Join(configDir, "corrections.rules"))
		}
		if strings.TrimSpace(cfg.Aliases.Path) == "" {
			cfg.Aliases.Path = firstExisting(filepath.Join(configDir, "aliases.conf"))
		}
	}

	cfg.Deepgram.APIKey = strings.TrimSpace(cfg.Deepgram.APIKey)
	cfg.Speech.Locale = firstNonEmpty(cfg.Speech.Locale, "pt-BR")
	cfg.Permission.Model = strings.ToLower(firstNonEmpty(cfg.Permission.Model, "auto"))
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.StreamingGrace < 0 {
		cfg.Session.StreamingGrace = 0
	}
	if cfg.Session.StopTimeout <= 0 {
		cfg.Session.StopTimeout = 4 * time.Second
	}
	if cfg.Permission.Timeout <= 0 {
		cfg.Permission.Timeout = 30 * time.Second
	}
	if cfg.Dispatch.Timeout <= 0 {
		cfg.Dispatch.Timeout = 10 * time.Second
	}
	if cfg.Dispatch.AwaitTimeout <= 0 {
		cfg.Dispatch.AwaitTimeout = 30 * time.Second
	}
	if cfg.Dispatch.PollInterval < 100*time.Millisecond {
		cfg.Dispatch.PollInterval = time.Second
	}

	return cfg, nil
}

// firstExisting returns the first path that exists, or "".
func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
