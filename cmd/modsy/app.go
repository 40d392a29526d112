package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"modsy/internal/bootstrap"
	"modsy/internal/config"
)

const shutdownTimeout = 10 * time.Second

// App is the process root: it owns the wired services and the HTTP listener.
type App struct {
	services bootstrap.Services
	logger   *slog.Logger
}

func NewApp(services bootstrap.Services) *App {
	return &App{services: services, logger: services.Logger}
}

// Run serves until ctx is canceled, then shuts the listener and services down.
func (a *App) Run(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           a.services.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	served := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", listener.Addr().String())
		served <- srv.Serve(listener)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := a.services.Close(shutdownCtx); err != nil {
		a.logger.Warn("service shutdown incomplete", "error", err)
	}
	return serveErr
}

// runtimeInfo lists non-sensitive settings for the startup log. cfg is the
// configuration Build resolved, so the engine is always set.
func runtimeInfo(cfg config.Config) map[string]string {
	engine := cfg.Speech.Engine
	dispatcher := "log"
	if cfg.Dispatch.RealtimeDBURL != "" {
		dispatcher = "realtimedb"
	}
	journal := "none"
	switch {
	case isPostgres(cfg.Journal.DSN):
		journal = "postgres"
	case cfg.Journal.DSN != "":
		journal = "sqlite"
	}

	return map[string]string{
		"engine":     engine,
		"locale":     cfg.Speech.Locale,
		"model":      cfg.Deepgram.Model,
		"rulesFile":  cfg.Rules.Path,
		"aliasFile":  cfg.Aliases.Path,
		"audioInput": cfg.Audio.InputDevice,
		"permission": cfg.Permission.Model,
		"dispatcher": dispatcher,
		"journal":    journal,
	}
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
