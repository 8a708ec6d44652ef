package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Daily   Cadence = "daily"
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

type (
	// Cadence is the fixed interval between recurrence occurrences.
	Cadence string

	// Date is a calendar day at UTC midnight. The worker reasons about
	// whole days only; times of day never participate in scheduling.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurrenceTemplate describes a recurring expense owned by a user.
	// NextRunDate is the next occurrence due to be materialized; it is
	// initialized to StartDate and only ever advances forward.
	RecurrenceTemplate struct {
		ID          string
		UserID      string
		Title       string
		Amount      Money
		CategoryID  string
		Cadence     Cadence
		StartDate   Date
		EndDate     Date // zero value means the template recurs forever
		NextRunDate Date
		IsDeleted   bool
	}

	// Occurrence is one concrete, dated expense. TemplateID is empty for
	// manually created expenses; when set, (TemplateID, Date) is unique.
	// The payload is copied from the template at materialization time and
	// is not affected by later template edits.
	Occurrence struct {
		ID         string
		TemplateID string
		UserID     string
		Title      string
		Amount     Money
		CategoryID string
		Note       string
		Date       Date
	}
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrEmptyTitle          = errors.New("empty title")
	ErrEmptyUserID         = errors.New("empty user id")
	ErrEmptyCategoryID     = errors.New("empty category id")
	ErrUnknownCadence      = errors.New("unknown cadence")
	ErrTemplateNotFound    = errors.New("recurrence template not found")
	ErrDuplicateOccurrence = errors.New("occurrence already exists for template and date")
)

// NewDate creates a Date from year, month, day at UTC midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses an ISO date string (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// ISO formats the date as 2006-01-02.
func (d Date) ISO() string {
	return d.Format("2006-01-02")
}

// IsEmpty reports whether the date is unset (used for optional end dates).
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (c Cadence) Validate() error {
	switch c {
	case Daily, Weekly, Monthly:
		return nil
	default:
		return ErrUnknownCadence
	}
}

func (t RecurrenceTemplate) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUserID
	}
	if len(strings.TrimSpace(t.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(t.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.CategoryID) == "" {
		return ErrEmptyCategoryID
	}
	if err := t.Cadence.Validate(); err != nil {
		return err
	}
	if err := t.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}
	if !t.EndDate.IsEmpty() && t.EndDate.Before(t.StartDate.Time) {
		return errors.New("end date must not be before start date")
	}
	if !t.NextRunDate.IsEmpty() && t.NextRunDate.Before(t.StartDate.Time) {
		return errors.New("next run date must not be before start date")
	}
	return nil
}

// Exhausted reports whether the template has run past its end date and
// will never produce another occurrence. Templates without an end date
// are never exhausted.
func (t RecurrenceTemplate) Exhausted() bool {
	return !t.EndDate.IsEmpty() && t.NextRunDate.After(t.EndDate.Time)
}

func (o Occurrence) Validate() error {
	if strings.TrimSpace(o.UserID) == "" {
		return ErrEmptyUserID
	}
	if len(strings.TrimSpace(o.Title)) == 0 {
		return ErrEmptyTitle
	}
	if err := o.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(o.CategoryID) == "" {
		return ErrEmptyCategoryID
	}
	return o.Date.Validate()
}
