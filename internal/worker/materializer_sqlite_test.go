package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ricorrenza/internal/core"
	"ricorrenza/internal/storage"
	"ricorrenza/internal/worker"
)

// These tests run the materializer against the real SQLite repository to
// cover the seams the fakes cannot: the unique index on
// (template_id, occurred_on) and the due-template query.

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCycleAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tpl, err := repo.CreateTemplate(ctx, core.RecurrenceTemplate{
		UserID:     "user-1",
		Title:      "Affitto",
		Amount:     core.Money{Cents: 85000},
		CategoryID: "casa",
		Cadence:    core.Monthly,
		StartDate:  core.NewDate(2025, 9, 28),
	})
	if err != nil {
		t.Fatalf("CreateTemplate() = %v", err)
	}

	m := worker.New(repo, repo, nil, worker.DefaultConfig())
	now := time.Date(2025, 11, 15, 9, 30, 0, 0, time.UTC)

	result, err := m.RunCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunCycle() = %v", err)
	}
	if result.Created != 2 || result.Skipped != 0 || len(result.Errors) != 0 {
		t.Fatalf("RunCycle() = %+v, want 2 created for Sep 28 and Oct 28", result)
	}

	occs, err := repo.ListOccurrencesByTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("ListOccurrencesByTemplate() = %v", err)
	}
	if len(occs) != 2 {
		t.Fatalf("got %d occurrences, want 2", len(occs))
	}
	for _, occ := range occs {
		if occ.Amount.Cents != 85000 || occ.Title != "Affitto" {
			t.Errorf("occurrence payload not copied from template: %+v", occ)
		}
	}

	got, err := repo.GetTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate() = %v", err)
	}
	if got.NextRunDate.ISO() != "2025-11-28" {
		t.Errorf("NextRunDate = %s, want 2025-11-28", got.NextRunDate.ISO())
	}

	// Re-running the same cycle is a no-op.
	result, err = m.RunCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunCycle() second pass = %v", err)
	}
	if result.Created != 0 || result.Skipped != 0 {
		t.Errorf("second RunCycle() = %+v, want no work", result)
	}
}

func TestCycleAgainstSQLitePreexistingOccurrence(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tpl, err := repo.CreateTemplate(ctx, core.RecurrenceTemplate{
		UserID:     "user-1",
		Title:      "Palestra",
		Amount:     core.Money{Cents: 3550},
		CategoryID: "salute",
		Cadence:    core.Weekly,
		StartDate:  core.NewDate(2025, 11, 1),
	})
	if err != nil {
		t.Fatalf("CreateTemplate() = %v", err)
	}

	// A previous interrupted cycle inserted the occurrence but died before
	// advancing the template.
	if _, err := repo.InsertOccurrence(ctx, core.Occurrence{
		TemplateID: tpl.ID,
		UserID:     tpl.UserID,
		Title:      tpl.Title,
		Amount:     tpl.Amount,
		CategoryID: tpl.CategoryID,
		Date:       core.NewDate(2025, 11, 1),
	}); err != nil {
		t.Fatalf("InsertOccurrence() = %v", err)
	}

	m := worker.New(repo, repo, nil, worker.DefaultConfig())
	now := time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)

	result, err := m.RunCycle(ctx, now)
	if err != nil {
		t.Fatalf("RunCycle() = %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 for the pre-existing Nov 1 occurrence", result.Skipped)
	}
	if result.Created != 1 {
		t.Errorf("Created = %d, want 1 for Nov 8", result.Created)
	}

	got, err := repo.GetTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate() = %v", err)
	}
	if got.NextRunDate.ISO() != "2025-11-15" {
		t.Errorf("NextRunDate = %s, want 2025-11-15", got.NextRunDate.ISO())
	}
}

func TestSQLiteDuplicateInsertMapsToSentinel(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tpl, err := repo.CreateTemplate(ctx, core.RecurrenceTemplate{
		UserID:     "user-1",
		Title:      "Caffè",
		Amount:     core.Money{Cents: 120},
		CategoryID: "cibo",
		Cadence:    core.Daily,
		StartDate:  core.NewDate(2025, 11, 1),
	})
	if err != nil {
		t.Fatalf("CreateTemplate() = %v", err)
	}

	occ := core.Occurrence{
		TemplateID: tpl.ID,
		UserID:     tpl.UserID,
		Title:      tpl.Title,
		Amount:     tpl.Amount,
		CategoryID: tpl.CategoryID,
		Date:       core.NewDate(2025, 11, 1),
	}
	if _, err := repo.InsertOccurrence(ctx, occ); err != nil {
		t.Fatalf("first InsertOccurrence() = %v", err)
	}
	if _, err := repo.InsertOccurrence(ctx, occ); !errors.Is(err, core.ErrDuplicateOccurrence) {
		t.Fatalf("second InsertOccurrence() = %v, want ErrDuplicateOccurrence", err)
	}
}
