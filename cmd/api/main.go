package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iddaa-lens/statsync/internal/app"
	"github.com/iddaa-lens/statsync/internal/config"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/presto"
	"github.com/iddaa-lens/statsync/pkg/server"
)

func main() {
	logger.SetupLogger()
	log := logger.New("api-service")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Str("action", "config_invalid").Msg("Invalid configuration")
	}

	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "server_creation_failed").
			Msg("Failed to create server")
	}
	defer a.Close()

	srv := server.New(cfg, server.Deps{
		DBPool:          a.Pool,
		Integrations:    a.Credentials,
		Runner:          a.Scheduler,
		DefaultProvider: presto.ProviderName,
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().
				Err(err).
				Str("action", "server_failed").
				Msg("Server failed to start")
		}
	case <-quit:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Str("action", "server_shutdown_failed").Msg("Graceful shutdown failed")
		}
		log.Info().Msg("API server stopped")
	}
}
