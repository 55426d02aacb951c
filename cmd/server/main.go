package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/dbarchive/internal/application"
	"github.com/JonMunkholm/dbarchive/internal/config"
	"github.com/JonMunkholm/dbarchive/internal/logging"
	"github.com/JonMunkholm/dbarchive/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// .env values override the environment
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"driver", cfg.Store.Driver,
		"archive_max_concurrent", cfg.Archive.MaxConcurrent,
		"require_api_key", cfg.Security.RequireAPIKey,
	)

	app, err := application.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to start archive service", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.Registry.Len() == 0 {
		slog.Warn("no tables registered; exports will fail until ARCHIVE_TABLES or ARCHIVE_DISCOVER is set")
	}
	for _, spec := range app.Registry.All() {
		slog.Debug("table registered", "table", spec.Name, "primary_key", spec.PrimaryKey)
	}

	server := web.NewServer(app.Service, cfg)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := app.Service.Limiter().ActiveCount(); active > 0 {
			slog.Info("waiting for archive jobs to complete", "active", active)
		}
		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
