package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/beautibuk/agent/api"
	"github.com/beautibuk/agent/internal/app"
	"github.com/beautibuk/agent/internal/config"
)

// runServe initializes the application and starts the HTTP API server.
func runServe() error {
	logger := initLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting agent", "version", AppVersion, "provider", cfg.Provider)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv := api.NewServer(a.DBPool, a.Sessions, a.Orchestrator, logger)
	return srv.Run(ctx, cfg.Addr)
}
