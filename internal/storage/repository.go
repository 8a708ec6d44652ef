// Package storage persists recurrence templates and materialized
// occurrences in SQLite. It implements both collaborators the
// materialization worker depends on: the template store and the
// occurrence ledger.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ricorrenza/internal/core"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateTemplate validates and stores a new recurrence template. A
// missing ID gets a fresh uuid; a missing NextRunDate is initialized to
// the start date, so the first occurrence falls on the start date.
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, tpl core.RecurrenceTemplate) (core.RecurrenceTemplate, error) {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.NextRunDate.IsEmpty() {
		tpl.NextRunDate = tpl.StartDate
	}
	if err := tpl.Validate(); err != nil {
		return core.RecurrenceTemplate{}, fmt.Errorf("validate template: %w", err)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurrence_templates
			(id, user_id, title, amount_cents, category_id, cadence, start_date, end_date, next_run_date, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		tpl.ID, tpl.UserID, tpl.Title, tpl.Amount.Cents, tpl.CategoryID, string(tpl.Cadence),
		tpl.StartDate.ISO(), nullDate(tpl.EndDate), tpl.NextRunDate.ISO())
	if err != nil {
		return core.RecurrenceTemplate{}, fmt.Errorf("insert template: %w", err)
	}

	slog.InfoContext(ctx, "Recurrence template created",
		"id", tpl.ID,
		"user_id", tpl.UserID,
		"title", tpl.Title,
		"cadence", tpl.Cadence,
		"next_run_date", tpl.NextRunDate.ISO())

	return tpl, nil
}

// GetTemplate returns a non-deleted template by id, or
// core.ErrTemplateNotFound.
func (r *SQLiteRepository) GetTemplate(ctx context.Context, id string) (*core.RecurrenceTemplate, error) {
	row := r.db.QueryRowContext(ctx, templateSelect+` WHERE id = ? AND is_deleted = 0`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// ListTemplates returns a user's non-deleted templates ordered by the
// next due date.
func (r *SQLiteRepository) ListTemplates(ctx context.Context, userID string) ([]core.RecurrenceTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		templateSelect+` WHERE user_id = ? AND is_deleted = 0 ORDER BY next_run_date`, userID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	return collectTemplates(rows)
}

// UpdateTemplate persists user edits to a template's payload and
// schedule fields. Deleted templates cannot be edited.
func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, tpl core.RecurrenceTemplate) error {
	if err := tpl.Validate(); err != nil {
		return fmt.Errorf("validate template: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE recurrence_templates
		SET title = ?, amount_cents = ?, category_id = ?, cadence = ?,
		    start_date = ?, end_date = ?, next_run_date = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ? AND is_deleted = 0`,
		tpl.Title, tpl.Amount.Cents, tpl.CategoryID, string(tpl.Cadence),
		tpl.StartDate.ISO(), nullDate(tpl.EndDate), tpl.NextRunDate.ISO(),
		tpl.ID, tpl.UserID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return requireRow(res)
}

// SoftDeleteTemplate marks a template deleted. The worker never selects
// deleted templates, so materialization stops immediately.
func (r *SQLiteRepository) SoftDeleteTemplate(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurrence_templates
		SET is_deleted = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ? AND is_deleted = 0`, id, userID)
	if err != nil {
		return fmt.Errorf("soft delete template: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Recurrence template soft-deleted", "id", id, "user_id", userID)
	return nil
}

// FindDueTemplates returns non-deleted templates whose next run date is
// on or before now's calendar day and which still have a due occurrence
// within their end-date bound. A template dormant past its end date is
// still returned so the final occurrences get materialized.
func (r *SQLiteRepository) FindDueTemplates(ctx context.Context, now time.Time) ([]core.RecurrenceTemplate, error) {
	today := core.DateOf(now).ISO()
	rows, err := r.db.QueryContext(ctx, templateSelect+`
		WHERE is_deleted = 0
		  AND next_run_date <= ?
		  AND (end_date IS NULL OR end_date >= next_run_date)
		ORDER BY next_run_date`, today)
	if err != nil {
		return nil, fmt.Errorf("find due templates: %w", err)
	}
	defer rows.Close()
	return collectTemplates(rows)
}

// SaveTemplate persists the advanced next run date after a
// materialization step.
func (r *SQLiteRepository) SaveTemplate(ctx context.Context, tpl core.RecurrenceTemplate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurrence_templates
		SET next_run_date = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		tpl.NextRunDate.ISO(), tpl.ID)
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return requireRow(res)
}

// FindOccurrence does the idempotency-key point lookup. A nil occurrence
// with nil error means no occurrence exists for (templateID, date).
func (r *SQLiteRepository) FindOccurrence(ctx context.Context, templateID string, date core.Date) (*core.Occurrence, error) {
	row := r.db.QueryRowContext(ctx,
		occurrenceSelect+` WHERE template_id = ? AND occurred_on = ?`,
		templateID, date.ISO())
	occ, err := scanOccurrence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find occurrence: %w", err)
	}
	return occ, nil
}

// InsertOccurrence stores a new occurrence. A violation of the
// (template_id, occurred_on) unique index is reported as
// core.ErrDuplicateOccurrence, which the worker treats as a skip.
func (r *SQLiteRepository) InsertOccurrence(ctx context.Context, occ core.Occurrence) (core.Occurrence, error) {
	if occ.ID == "" {
		occ.ID = uuid.NewString()
	}
	if err := occ.Validate(); err != nil {
		return core.Occurrence{}, fmt.Errorf("validate occurrence: %w", err)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO occurrences
			(id, template_id, user_id, title, amount_cents, category_id, note, occurred_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		occ.ID, nullString(occ.TemplateID), occ.UserID, occ.Title, occ.Amount.Cents,
		occ.CategoryID, occ.Note, occ.Date.ISO())
	if isUniqueViolation(err) {
		return core.Occurrence{}, fmt.Errorf("insert occurrence %s/%s: %w",
			occ.TemplateID, occ.Date.ISO(), core.ErrDuplicateOccurrence)
	}
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("insert occurrence: %w", err)
	}

	return occ, nil
}

// ListOccurrencesByTemplate returns all occurrences materialized from a
// template, oldest first.
func (r *SQLiteRepository) ListOccurrencesByTemplate(ctx context.Context, templateID string) ([]core.Occurrence, error) {
	rows, err := r.db.QueryContext(ctx,
		occurrenceSelect+` WHERE template_id = ? ORDER BY occurred_on`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list occurrences by template: %w", err)
	}
	defer rows.Close()
	return collectOccurrences(rows)
}

// ListOccurrences returns a user's occurrences for a given month, newest
// first.
func (r *SQLiteRepository) ListOccurrences(ctx context.Context, userID string, year, month int) ([]core.Occurrence, error) {
	first := core.NewDate(year, month, 1)
	next := core.Date{Time: first.AddDate(0, 1, 0)}
	rows, err := r.db.QueryContext(ctx, occurrenceSelect+`
		WHERE user_id = ? AND occurred_on >= ? AND occurred_on < ?
		ORDER BY occurred_on DESC`,
		userID, first.ISO(), next.ISO())
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()
	return collectOccurrences(rows)
}

// ReadMonthOverview aggregates a user's occurrences for one month into a
// total and per-category sums.
func (r *SQLiteRepository) ReadMonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error) {
	overview := core.MonthOverview{UserID: userID, Year: year, Month: month}
	first := core.NewDate(year, month, 1)
	next := core.Date{Time: first.AddDate(0, 1, 0)}

	rows, err := r.db.QueryContext(ctx, `
		SELECT category_id, COALESCE(SUM(amount_cents), 0)
		FROM occurrences
		WHERE user_id = ? AND occurred_on >= ? AND occurred_on < ?
		GROUP BY category_id
		ORDER BY SUM(amount_cents) DESC`,
		userID, first.ISO(), next.ISO())
	if err != nil {
		return overview, fmt.Errorf("read month overview: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.CategoryID, &ca.Amount.Cents); err != nil {
			return overview, fmt.Errorf("scan category sum: %w", err)
		}
		overview.ByCategory = append(overview.ByCategory, ca)
		overview.Total.Cents += ca.Amount.Cents
	}
	if err := rows.Err(); err != nil {
		return overview, fmt.Errorf("iterate category sums: %w", err)
	}

	return overview, nil
}

const templateSelect = `
	SELECT id, user_id, title, amount_cents, category_id, cadence, start_date, end_date, next_run_date, is_deleted
	FROM recurrence_templates`

const occurrenceSelect = `
	SELECT id, template_id, user_id, title, amount_cents, category_id, note, occurred_on
	FROM occurrences`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*core.RecurrenceTemplate, error) {
	var (
		tpl         core.RecurrenceTemplate
		cadence     string
		start, next string
		end         sql.NullString
		deleted     int
	)
	if err := row.Scan(&tpl.ID, &tpl.UserID, &tpl.Title, &tpl.Amount.Cents, &tpl.CategoryID,
		&cadence, &start, &end, &next, &deleted); err != nil {
		return nil, err
	}

	tpl.Cadence = core.Cadence(cadence)
	tpl.IsDeleted = deleted != 0

	var err error
	if tpl.StartDate, err = core.ParseDate(start); err != nil {
		return nil, fmt.Errorf("parse start date %q: %w", start, err)
	}
	if tpl.NextRunDate, err = core.ParseDate(next); err != nil {
		return nil, fmt.Errorf("parse next run date %q: %w", next, err)
	}
	if end.Valid {
		if tpl.EndDate, err = core.ParseDate(end.String); err != nil {
			return nil, fmt.Errorf("parse end date %q: %w", end.String, err)
		}
	}

	return &tpl, nil
}

func collectTemplates(rows *sql.Rows) ([]core.RecurrenceTemplate, error) {
	var templates []core.RecurrenceTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

func scanOccurrence(row rowScanner) (*core.Occurrence, error) {
	var (
		occ        core.Occurrence
		templateID sql.NullString
		occurredOn string
	)
	if err := row.Scan(&occ.ID, &templateID, &occ.UserID, &occ.Title, &occ.Amount.Cents,
		&occ.CategoryID, &occ.Note, &occurredOn); err != nil {
		return nil, err
	}

	occ.TemplateID = templateID.String

	var err error
	if occ.Date, err = core.ParseDate(occurredOn); err != nil {
		return nil, fmt.Errorf("parse occurrence date %q: %w", occurredOn, err)
	}

	return &occ, nil
}

func collectOccurrences(rows *sql.Rows) ([]core.Occurrence, error) {
	var occurrences []core.Occurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		occurrences = append(occurrences, *occ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occurrences: %w", err)
	}
	return occurrences, nil
}

func nullDate(d core.Date) any {
	if d.IsEmpty() {
		return nil
	}
	return d.ISO()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrTemplateNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
