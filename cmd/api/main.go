// Command api is the reminder dispatch HTTP service.
//
// Usage:
//
//	reminder-api
//	API_PORT=8080 REMINDER_SCHEDULE_ENABLED=true reminder-api

// @title Reminder Dispatch API
// @version 1.0.0
// @description Daily transaction reminders: minute matching, activity suppression, notification feed records and FCM fan-out.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Catat Duit
// @license.name MIT
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/catatduit/reminder-dispatch/internal/api"
	"github.com/catatduit/reminder-dispatch/internal/cache"
	"github.com/catatduit/reminder-dispatch/internal/config"
	"github.com/catatduit/reminder-dispatch/internal/db"
	"github.com/catatduit/reminder-dispatch/internal/fcm"
	"github.com/catatduit/reminder-dispatch/internal/reminder"
	"github.com/catatduit/reminder-dispatch/internal/trigger"

	_ "github.com/catatduit/reminder-dispatch/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Push client. Missing credentials are not fatal at startup; every run
	// then fails at the authorize stage.
	pushClient, err := fcm.NewClientFromFile(cfg.FCMCredentialsFile, fcm.Options{
		Endpoint: cfg.FCMEndpoint,
		Timeout:  cfg.FCMRequestTimeout,
		SendRate: cfg.FCMSendRate,
	}, logger)
	if err != nil {
		logger.Error("Failed to load FCM credentials", "error", err)
		os.Exit(1)
	}
	if pushClient == nil {
		logger.Warn("Push delivery disabled (no FIREBASE_CREDENTIALS_FILE)")
	}

	// Dispatcher
	opts := reminder.OptionsFromConfig(cfg.Reminder)
	deps := api.Deps{DB: pool, Logger: logger}
	if cfg.Reminder.DedupEnabled {
		guard := cache.New(cache.DefaultTTL)
		go guard.EvictLoop(ctx.Done(), 5*time.Minute)
		opts.Guard = guard
		deps.Guard = guard
		logger.Info("Minute guard enabled", "ttl", cache.DefaultTTL)
	}
	dispatcher := reminder.NewDispatcher(reminder.NewPGStore(pool.Pool), pushClient, opts, logger)
	deps.Runner = dispatcher

	// In-process triggers share one gate so their runs never overlap
	gate := trigger.NewGate(dispatcher, logger)
	if cfg.Reminder.ScheduleEnabled {
		go trigger.StartTicker(ctx, gate)
	}
	if cfg.Reminder.ListenChannel != "" {
		go trigger.StartListener(ctx, cfg.DatabaseURL, cfg.Reminder.ListenChannel, gate)
	}

	// Create router
	router := api.NewRouter(deps, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout(cfg.Reminder.RunTimeout),
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Reminder Dispatch API",
			"addr", addr,
			"environment", cfg.Environment,
			"zone", cfg.Reminder.ZoneLabel,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}

// writeTimeout leaves room for a trigger response after a full run. A run
// without a deadline gets no write timeout either.
func writeTimeout(run time.Duration) time.Duration {
	if run <= 0 {
		return 0
	}
	return run + 10*time.Second
}
