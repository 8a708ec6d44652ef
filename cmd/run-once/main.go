package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"ricorrenza/internal/config"
	"ricorrenza/internal/core"
	"ricorrenza/internal/storage"
	"ricorrenza/internal/worker"
)

// run-once executes a single materialization cycle and exits. Useful for
// debugging catch-up behavior: pass -now to pretend the clock reads a
// different day.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	nowFlag := flag.String("now", "", "run the cycle as if today were this date (YYYY-MM-DD)")
	flag.Parse()

	now := time.Now()
	if *nowFlag != "" {
		d, err := core.ParseDate(*nowFlag)
		if err != nil {
			logger.Error("Invalid -now value", "value", *nowFlag, "error", err)
			os.Exit(1)
		}
		now = d.Time
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	materializer := worker.New(repo, repo, nil, worker.Config{
		Concurrency:           cfg.WorkerConcurrency,
		TemplateTimeout:       cfg.TemplateTimeout,
		MaxCatchUpPerTemplate: cfg.MaxCatchUpPerTemplate,
	})

	logger.Info("Running single materialization cycle", "now", now.Format("2006-01-02"))

	result, err := materializer.RunCycle(context.Background(), now)
	if err != nil {
		logger.Error("Materialization cycle failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Materialization cycle complete",
		"created", result.Created,
		"skipped", result.Skipped,
		"failed_templates", len(result.Errors))

	for _, te := range result.Errors {
		logger.Error("Template failed", "template_id", te.TemplateID, "error", te.Err)
	}

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}
