package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"modsy/internal/bootstrap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "modsy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Build(ctx, os.Stderr)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	listener, err := net.Listen("tcp", services.Config.HTTP.Addr)
	if err != nil {
		_ = services.Close(context.Background())
		return fmt.Errorf("listen: %w", err)
	}

	info := runtimeInfo(services.Config)
	args := make([]any, 0, len(info)*2)
	for key, value := range info {
		args = append(args, key, value)
	}
	services.Logger.Info("modsy starting", args...)

	return NewApp(services).Run(ctx, listener)
}
