package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"ricorrenza/internal/amqp"
	"ricorrenza/internal/config"
	"ricorrenza/internal/scheduler"
	"ricorrenza/internal/storage"
	"ricorrenza/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting ricorrenza-worker")

	// Load configuration
	cfg := config.Load()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Initialize SQLite repository
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Initialize AMQP client for publishing occurrence events.
	// Downstream consumers (budget alerts, notifications) subscribe to these.
	var publisher worker.OccurrencePublisher
	if cfg.AMQPURL != "" {
		dialCtx, dialCancel := context.WithTimeout(context.Background(), 30*time.Second)
		amqpClient, err := amqp.DialWithRetry(dialCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		dialCancel()
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without event publishing", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized - occurrence events will be published")
		}
	} else {
		logger.Info("AMQP disabled - occurrence events will not be published")
	}

	// Initialize materializer
	materializer := worker.New(repo, repo, publisher, worker.Config{
		Concurrency:           cfg.WorkerConcurrency,
		TemplateTimeout:       cfg.TemplateTimeout,
		MaxCatchUpPerTemplate: cfg.MaxCatchUpPerTemplate,
	})

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runCycle := func() {
		result, err := materializer.RunCycle(ctx, time.Now())
		if err != nil {
			logger.Error("Materialization cycle failed", "error", err)
			return
		}
		logger.Info("Materialization cycle complete",
			"created", result.Created,
			"skipped", result.Skipped,
			"failed_templates", len(result.Errors))
	}

	// Run initial cycle on startup to catch up after downtime
	logger.Info("Running initial materialization cycle...")
	runCycle()

	// Schedule periodic cycles
	sched := scheduler.New(cfg.CronSchedule, runCycle, logger)
	if err := sched.Start(); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	logger.Info("Shutting down ricorrenza-worker...")
	cancel()

	// Wait for any in-flight cycle to finish, bounded
	select {
	case <-sched.Stop().Done():
		logger.Info("Ricorrenza-worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
