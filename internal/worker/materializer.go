// Package worker contains the recurrence materialization logic: it
// projects due recurrence templates into concrete expense occurrences,
// exactly once per (template, date), and advances each template's
// schedule.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ricorrenza/internal/core"
)

// TemplateStore is the recurrence-store contract the materializer
// consumes.
type TemplateStore interface {
	// FindDueTemplates returns non-deleted templates with a due
	// occurrence: next run date on or before now and within the end-date
	// bound.
	FindDueTemplates(ctx context.Context, now time.Time) ([]core.RecurrenceTemplate, error)
	// SaveTemplate persists an advanced next run date.
	SaveTemplate(ctx context.Context, tpl core.RecurrenceTemplate) error
}

// OccurrenceLedger is the occurrence-ledger contract. InsertOccurrence
// must fail with core.ErrDuplicateOccurrence when the (template, date)
// unique constraint is violated, so races between concurrent cycles
// degrade to skips.
type OccurrenceLedger interface {
	FindOccurrence(ctx context.Context, templateID string, date core.Date) (*core.Occurrence, error)
	InsertOccurrence(ctx context.Context, occ core.Occurrence) (core.Occurrence, error)
}

// OccurrencePublisher notifies downstream consumers about materialized
// occurrences. Publish failures never fail materialization.
type OccurrencePublisher interface {
	PublishOccurrenceCreated(ctx context.Context, occ core.Occurrence) error
}

// Config holds materializer tuning knobs.
type Config struct {
	// Concurrency is the number of templates processed in parallel.
	// Templates are independent units; 1 means strictly sequential.
	Concurrency int

	// TemplateTimeout bounds the processing of a single template.
	// Zero disables the per-template timeout.
	TemplateTimeout time.Duration

	// MaxCatchUpPerTemplate caps how many missed occurrences a single
	// cycle materializes for one template, so malformed data cannot spin
	// a cycle forever. The remainder is picked up by the next cycle.
	MaxCatchUpPerTemplate int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:           1,
		TemplateTimeout:       30 * time.Second,
		MaxCatchUpPerTemplate: 1000,
	}
}

// TemplateError records a per-template processing failure. Failures are
// collected, not propagated: one template must never abort the cycle for
// the others.
type TemplateError struct {
	TemplateID string
	Err        error
}

func (e TemplateError) Error() string {
	return fmt.Sprintf("template %s: %v", e.TemplateID, e.Err)
}

func (e TemplateError) Unwrap() error { return e.Err }

// CycleResult aggregates one materialization pass.
type CycleResult struct {
	Created int
	Skipped int
	Errors  []TemplateError
}

// Materializer converts due recurrence templates into occurrences.
type Materializer struct {
	store     TemplateStore
	ledger    OccurrenceLedger
	publisher OccurrencePublisher
	config    Config
}

// New creates a materializer. publisher may be nil to disable event
// publishing.
func New(store TemplateStore, ledger OccurrenceLedger, publisher OccurrencePublisher, config Config) *Materializer {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.MaxCatchUpPerTemplate < 1 {
		config.MaxCatchUpPerTemplate = DefaultConfig().MaxCatchUpPerTemplate
	}
	return &Materializer{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		config:    config,
	}
}

// RunCycle materializes every occurrence due at now, across all due
// templates. It is idempotent: re-running with the same now creates
// nothing new, because existing occurrences are detected by their
// (template, date) key and templates advance past now on the first run.
//
// The returned error is non-nil only when the due-template listing
// itself fails; per-template failures land in CycleResult.Errors and
// leave the template's schedule untouched so the next cycle retries it.
func (m *Materializer) RunCycle(ctx context.Context, now time.Time) (CycleResult, error) {
	templates, err := m.store.FindDueTemplates(ctx, now)
	if err != nil {
		return CycleResult{}, fmt.Errorf("find due templates: %w", err)
	}

	slog.InfoContext(ctx, "Materialization cycle started",
		"due_templates", len(templates),
		"processing_date", core.DateOf(now).ISO())

	var (
		mu     sync.Mutex
		result CycleResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Concurrency)

	for _, tpl := range templates {
		tpl := tpl
		g.Go(func() error {
			created, skipped, err := m.processTemplate(gctx, tpl, now)

			mu.Lock()
			result.Created += created
			result.Skipped += skipped
			if err != nil {
				result.Errors = append(result.Errors, TemplateError{TemplateID: tpl.ID, Err: err})
			}
			mu.Unlock()

			if err != nil {
				slog.ErrorContext(gctx, "Template processing failed",
					"template_id", tpl.ID,
					"title", tpl.Title,
					"error", err)
			}
			// Collected above; returning it would cancel the group and
			// abort the remaining templates.
			return nil
		})
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "Materialization cycle complete",
		"created", result.Created,
		"skipped", result.Skipped,
		"failed_templates", len(result.Errors))

	return result, nil
}

// processTemplate materializes all occurrences of one template due at
// now, advancing the schedule one cadence step at a time. A dormant
// template catches up on every missed occurrence, not just the first.
func (m *Materializer) processTemplate(ctx context.Context, tpl core.RecurrenceTemplate, now time.Time) (created, skipped int, err error) {
	if m.config.TemplateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.TemplateTimeout)
		defer cancel()
	}

	// Malformed cadence means the advance in the loop below can never
	// succeed; report it before touching the ledger.
	if err := tpl.Cadence.Validate(); err != nil {
		return 0, 0, err
	}

	today := core.DateOf(now)

	for steps := 0; steps < m.config.MaxCatchUpPerTemplate; steps++ {
		runDate := tpl.NextRunDate
		if runDate.After(today.Time) {
			break
		}
		// Re-check the end-date bound each step: the final occurrence
		// lands exactly on the end date, then the template is exhausted.
		if !tpl.EndDate.IsEmpty() && runDate.After(tpl.EndDate.Time) {
			break
		}

		madeOne, stepErr := m.materializeOne(ctx, tpl, runDate)
		if stepErr != nil {
			// The advance below never happened, so this occurrence is
			// retried on the next cycle. No silent loss.
			return created, skipped, stepErr
		}
		if madeOne {
			created++
		} else {
			skipped++
		}

		next, stepErr := core.NextRunDate(runDate, tpl.Cadence)
		if stepErr != nil {
			return created, skipped, stepErr
		}
		tpl.NextRunDate = next

		if stepErr := m.store.SaveTemplate(ctx, tpl); stepErr != nil {
			// The occurrence is committed; the stale next run date makes
			// the next cycle re-detect it as a duplicate and skip.
			return created, skipped, fmt.Errorf("save template: %w", stepErr)
		}
	}

	return created, skipped, nil
}

// materializeOne creates the occurrence for a single run date, unless it
// already exists. Returns true when a new occurrence was created.
func (m *Materializer) materializeOne(ctx context.Context, tpl core.RecurrenceTemplate, runDate core.Date) (bool, error) {
	existing, err := m.ledger.FindOccurrence(ctx, tpl.ID, runDate)
	if err != nil {
		return false, fmt.Errorf("find occurrence: %w", err)
	}
	if existing != nil {
		slog.WarnContext(ctx, "Skipping duplicate occurrence",
			"template_id", tpl.ID,
			"title", tpl.Title,
			"occurrence_date", runDate.ISO())
		return false, nil
	}

	occ, err := m.ledger.InsertOccurrence(ctx, core.Occurrence{
		TemplateID: tpl.ID,
		UserID:     tpl.UserID,
		Title:      tpl.Title,
		Amount:     tpl.Amount,
		CategoryID: tpl.CategoryID,
		Note:       fmt.Sprintf("Auto-generated from recurring expense: %s", tpl.Title),
		Date:       runDate,
	})
	if errors.Is(err, core.ErrDuplicateOccurrence) {
		// Lost a race against a concurrent cycle; the other insert won.
		slog.WarnContext(ctx, "Concurrent cycle materialized this occurrence first",
			"template_id", tpl.ID,
			"occurrence_date", runDate.ISO())
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert occurrence: %w", err)
	}

	slog.InfoContext(ctx, "Occurrence materialized",
		"template_id", tpl.ID,
		"occurrence_id", occ.ID,
		"title", tpl.Title,
		"amount_cents", tpl.Amount.Cents,
		"occurrence_date", runDate.ISO())

	if m.publisher != nil {
		if err := m.publisher.PublishOccurrenceCreated(ctx, occ); err != nil {
			slog.ErrorContext(ctx, "Failed to publish occurrence event",
				"occurrence_id", occ.ID,
				"error", err)
		}
	}

	return true, nil
}
