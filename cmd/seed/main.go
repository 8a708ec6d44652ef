package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"ricorrenza/internal/config"
	"ricorrenza/internal/core"
	"ricorrenza/internal/storage"
)

// seed inserts a handful of demo recurrence templates so the worker has
// something to materialize on a fresh database.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

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

	today := core.DateOf(time.Now())

	seeds := []struct {
		title    string
		amount   string
		category string
		cadence  core.Cadence
		start    core.Date
	}{
		{"Affitto", "850.00", "casa", core.Monthly, core.DateOf(today.AddDate(0, -2, 0))},
		{"Netflix", "12.99", "svago", core.Monthly, core.DateOf(today.AddDate(0, -1, 0))},
		{"Palestra", "35.50", "salute", core.Weekly, core.DateOf(today.AddDate(0, 0, -21))},
		{"Caffè", "1.20", "cibo", core.Daily, core.DateOf(today.AddDate(0, 0, -7))},
	}

	ctx := context.Background()
	for _, s := range seeds {
		cents, err := core.ParseDecimalToCents(s.amount)
		if err != nil {
			logger.Error("Invalid seed amount", "title", s.title, "amount", s.amount, "error", err)
			os.Exit(1)
		}

		tpl := core.RecurrenceTemplate{
			UserID:     "demo-user",
			Title:      s.title,
			Amount:     core.Money{Cents: cents},
			CategoryID: s.category,
			Cadence:    s.cadence,
			StartDate:  s.start,
		}

		created, err := repo.CreateTemplate(ctx, tpl)
		if err != nil {
			logger.Error("Failed to seed template", "title", s.title, "error", err)
			os.Exit(1)
		}
		logger.Info("Seeded template",
			"id", created.ID,
			"title", created.Title,
			"cadence", created.Cadence,
			"next_run_date", created.NextRunDate.ISO())
	}

	logger.Info("Seeding complete", "templates", len(seeds))
}
