package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-transcription-service/internal/apigateway"
	"voice-transcription-service/internal/auth"
	"voice-transcription-service/internal/config"
	"voice-transcription-service/internal/datastore"
	"voice-transcription-service/internal/engine"
	"voice-transcription-service/internal/metrics"
	"voice-transcription-service/internal/objectstore"
	"voice-transcription-service/internal/transcribe"
	"voice-transcription-service/internal/transcriber"
	"voice-transcription-service/internal/validation"
	"voice-transcription-service/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (defaults apply when empty)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	store, err := datastore.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	eng, err := engine.New(cfg.Engine, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize transcription engine: %w", err)
	}
	logger.Info("transcription engine ready",
		slog.String("backend", eng.Name()),
		slog.Int("max_concurrent", cfg.Engine.MaxConcurrent),
	)

	m := metrics.NewMetrics()

	dispatcher := transcriber.NewDispatcher(eng, cfg.Engine.MaxConcurrent, cfg.Engine.GetTimeoutDuration(), m, logger)
	notifier := webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.GetTimeoutDuration(), cfg.Webhook.Retries, m, logger)

	var archiver transcribe.Archiver
	if cfg.Archive.Enabled {
		a, err := objectstore.New(context.Background(), cfg.Archive, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize audio archiver: %w", err)
		}
		archiver = a
		logger.Info("audio archival enabled", slog.String("bucket", cfg.Archive.Bucket))
	}

	handler := transcribe.NewHandler(
		auth.NewAuthenticator(store, logger),
		validation.NewValidator(cfg.Upload.AllowedTypes),
		dispatcher,
		notifier,
		archiver,
		cfg.Upload.MaxFileSize,
		logger,
	)

	router := apigateway.SetupRouter(apigateway.Dependencies{
		Transcribe: handler,
		Admin:      auth.NewAdminHandlers(store),
		AdminToken: cfg.Admin.Token,
		Store:      store,
		EngineName: eng.Name(),
		Metrics:    m,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// initLogger builds the slog logger from the logging section.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	var out *os.File
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		out = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), nil
}
