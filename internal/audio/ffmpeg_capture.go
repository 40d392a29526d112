// Package audio captures microphone PCM for the streaming speech engine.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"modsy/internal/domain"
	"modsy/internal/ports"
)

const (
	defaultSampleRate   = 16000
	defaultStartupProbe = 250 * time.Millisecond
	defaultStopGrace    = 1200 * time.Millisecond
)

// FFMPEGCapture records the microphone through an ffmpeg child process that
// writes signed 16-bit little-endian PCM to stdout.
type FFMPEGCapture struct {
	command      string
	logger       *slog.Logger
	startupProbe time.Duration
	stopGrace    time.Duration
}

func NewFFMPEGCapture(command string, logger *slog.Logger) *FFMPEGCapture {
	if strings.TrimSpace(command) == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFMPEGCapture{
		command:      command,
		logger:       logger.With("component", "audio"),
		startupProbe: defaultStartupProbe,
		stopGrace:    defaultStopGrace,
	}
}

// Start launches the recorder. A recorder binary that cannot be found is
// reported as domain.ErrEngineUnavailable so the session can tell the user
// speech is not available on this device.
func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	path, err := exec.LookPath(c.command)
	if err != nil {
		return nil, fmt.Errorf("%w: recorder %q not found", domain.ErrEngineUnavailable, c.command)
	}

	cmd := exec.CommandContext(ctx, path, captureArgs(withDefaults(cfg))...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	// The read end stays ours: Wait only closes pipes exec created, so PCM the
	// recorder flushes on interrupt can still be read after it exits.
	stdout, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder stdout: %w", err)
	}
	cmd.Stdout = writer
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("failed to start recorder: %w", err)
	}
	_ = writer.Close()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	// A recorder that cannot open the device dies almost immediately.
	probe := time.NewTimer(c.startupProbe)
	defer probe.Stop()
	select {
	case err := <-exited:
		_ = stdout.Close()
		detail := stderr.trimmed()
		if err != nil {
			return nil, fmt.Errorf("recorder exited before capture started: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("recorder exited before capture started: %s", detail)
	case <-probe.C:
	}

	c.logger.Debug("microphone capture started", "pid", cmd.Process.Pid)
	return &ffmpegSession{
		stdout:    stdout,
		stderr:    stderr,
		process:   cmd.Process,
		exited:    exited,
		stopGrace: c.stopGrace,
	}, nil
}

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type ffmpegSession struct {
	stdout    io.ReadCloser
	stderr    *syncBuffer
	process   *os.Process
	exited    <-chan error
	stopGrace time.Duration

	stopOnce  sync.Once
	stopErr   error
	closeOnce sync.Once
	closeErr  error
}

// Read returns PCM until the recorder exits and its output is drained, then io.EOF.
func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close stops the recorder and discards unread output.
func (s *ffmpegSession) Close() error {
	stopErr := s.Stop()
	s.closeOnce.Do(func() {
		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.closeErr = err
		}
	})
	if stopErr != nil {
		return stopErr
	}
	return s.closeErr
}

// Stop interrupts the recorder so it flushes, then kills it after the grace
// period. A non-zero exit caused by the interrupt is not an error. Output
// already written stays readable until Close.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		grace := time.NewTimer(s.stopGrace)
		defer grace.Stop()
		select {
		case err, ok := <-s.exited:
			if ok {
				s.stopErr = ignoreExitStatus(err)
			}
		case <-grace.C:
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.exited; ok {
				s.stopErr = ignoreExitStatus(err)
			}
		}

		if s.stopErr != nil {
			if detail := s.stderr.trimmed(); detail != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, detail)
			}
		}
	})
	return s.stopErr
}

func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// syncBuffer collects recorder stderr written from the exec copy goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
