package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjmerc/chunkvault/internal/bootstrap"
	"github.com/fjmerc/chunkvault/internal/config"
	"github.com/fjmerc/chunkvault/internal/handlers"
	"github.com/fjmerc/chunkvault/internal/uploads"
	"github.com/fjmerc/chunkvault/internal/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting chunkvault",
		"port", cfg.Port,
		"db_type", cfg.DBType,
		"bucket", cfg.S3.Bucket,
		"chunk_size", cfg.ChunkSize,
		"chunk_threshold", cfg.ChunkThreshold,
		"max_file_size", cfg.MaxFileSize,
	)

	repos, err := bootstrap.OpenRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.Close()

	gateway, err := bootstrap.OpenGateway(ctx, cfg)
	if err != nil {
		return err
	}

	tracker := utils.NewOperationTracker()
	svc := uploads.NewService(cfg, repos, gateway, uploads.WithTracker(tracker))

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(handlers.Dependencies{
			Config:    cfg,
			Repos:     repos,
			Gateway:   gateway,
			Service:   svc,
			StartTime: time.Now(),
		}),
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start cleanup workers
	go utils.StartCleanupWorker(ctx, "abandoned-uploads",
		time.Duration(cfg.CleanupIntervalMinutes)*time.Minute, svc.CleanupAbandoned)
	go utils.StartCleanupWorker(ctx, "expired-sessions", 30*time.Minute, func(ctx context.Context) (int, error) {
		n, err := repos.Sessions.DeleteExpired(ctx, time.Now())
		return int(n), err
	})

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case sig := <-shutdown:
		slog.Info("shutdown signal received", "signal", sig)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		server.Close()
	}

	// Completions and aborts already past their first write are allowed to finish
	if !tracker.Drain(shutdownCtx) {
		slog.Warn("shutdown timed out with operations in flight", "active", tracker.Active())
	}

	slog.Info("server stopped")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
