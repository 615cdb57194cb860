package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kcoder666/sheetflow/internal/application"
	"github.com/kcoder666/sheetflow/internal/config"
	"github.com/kcoder666/sheetflow/internal/logging"
	"github.com/kcoder666/sheetflow/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"engine_max_processes", cfg.Engine.MaxProcesses,
		"large_file_threshold", cfg.Engine.LargeFileThreshold,
		"rate_limit", cfg.Security.RateLimit,
		"api_keys", len(cfg.Security.Keys()),
	)
	slog.Debug("configuration", "config", cfg.String())

	app := application.New(cfg)

	// Resolve the engine up front so a missing install shows in the logs;
	// in-process tiers keep working without it.
	if cmd, err := app.Resolver.Resolve(context.Background()); err != nil {
		slog.Warn("conversion engine unavailable", "error", err)
	} else {
		slog.Info("conversion engine resolved", "mode", cmd.Mode, "path", cmd.Path)
	}

	server := web.NewServer(cfg, web.Deps{
		Jobs:      app.Jobs,
		NewViewer: app.NewViewer,
		Limiter:   app.Limiter,
	})

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Cancel jobs first so their event streams end before the server
		// waits on open connections.
		if err := app.Shutdown(shutdownCtx); err != nil {
			slog.Warn("jobs did not stop cleanly", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
