package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mixelka/mailpush/internal/config"
	"github.com/mixelka/mailpush/internal/crypto"
	"github.com/mixelka/mailpush/internal/database"
	"github.com/mixelka/mailpush/internal/events"
	"github.com/mixelka/mailpush/internal/listener"
	"github.com/mixelka/mailpush/internal/push"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mailpush")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Credential vault
	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to create vault", "error", err)
		os.Exit(1)
	}

	// Build the pipeline: hub -> dispatcher -> processor -> registry
	hub := events.NewHub(logger)
	limiter := push.NewRateLimiter(db, cfg.PushRateLimit, cfg.PushRateWindow)
	renderer := push.NewRenderer(cfg.PreviewMaxRunes)
	dispatcher := push.NewDispatcher(db, limiter, renderer, cfg.PushTimeout, logger)
	processor := listener.NewProcessor(db, dispatcher, hub, logger)
	registry := listener.NewRegistry(cfg, db, vault, processor, logger)

	// Restore listeners for accounts that were connected before
	if err := registry.StartAll(ctx); err != nil {
		logger.Error("failed to bootstrap listeners", "error", err)
		os.Exit(1)
	}

	// HTTP: live updates and health only; all CRUD lives elsewhere
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", "signal", sig.String())
	logger.Info("shutting down...")

	registry.StopAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	logger.Info("mailpush stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
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
