package core

import "testing"

func TestNextRunDate(t *testing.T) {
	tests := []struct {
		name    string
		run     Date
		cadence Cadence
		want    Date
	}{
		{"daily", NewDate(2025, 10, 28), Daily, NewDate(2025, 10, 29)},
		{"daily across month end", NewDate(2025, 10, 31), Daily, NewDate(2025, 11, 1)},
		{"daily across year end", NewDate(2025, 12, 31), Daily, NewDate(2026, 1, 1)},
		{"weekly", NewDate(2025, 10, 28), Weekly, NewDate(2025, 11, 4)},
		{"weekly across year end", NewDate(2025, 12, 30), Weekly, NewDate(2026, 1, 6)},
		{"monthly same day", NewDate(2025, 10, 28), Monthly, NewDate(2025, 11, 28)},
		{"monthly jan 31 clamps to feb 28", NewDate(2025, 1, 31), Monthly, NewDate(2025, 2, 28)},
		{"monthly jan 31 leap year clamps to feb 29", NewDate(2024, 1, 31), Monthly, NewDate(2024, 2, 29)},
		{"monthly mar 31 clamps to apr 30", NewDate(2025, 3, 31), Monthly, NewDate(2025, 4, 30)},
		{"monthly dec wraps to jan", NewDate(2025, 12, 15), Monthly, NewDate(2026, 1, 15)},
		{"monthly dec 31 wraps to jan 31", NewDate(2025, 12, 31), Monthly, NewDate(2026, 1, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRunDate(tt.run, tt.cadence)
			if err != nil {
				t.Fatalf("NextRunDate() error = %v", err)
			}
			if !got.Equal(tt.want.Time) {
				t.Errorf("NextRunDate(%s, %s) = %s, want %s", tt.run.ISO(), tt.cadence, got.ISO(), tt.want.ISO())
			}
		})
	}
}

func TestNextRunDateUnknownCadence(t *testing.T) {
	if _, err := NextRunDate(NewDate(2025, 1, 1), Cadence("fortnightly")); err != ErrUnknownCadence {
		t.Fatalf("expected ErrUnknownCadence, got %v", err)
	}
}

// A clamped monthly schedule keeps stepping from the clamped day, not
// the original anchor: Jan 31 -> Feb 28 -> Mar 28.
func TestNextRunDateMonthlyClampDoesNotRestoreAnchor(t *testing.T) {
	d, err := NextRunDate(NewDate(2025, 1, 31), Monthly)
	if err != nil {
		t.Fatalf("NextRunDate() error = %v", err)
	}
	d, err = NextRunDate(d, Monthly)
	if err != nil {
		t.Fatalf("NextRunDate() error = %v", err)
	}
	if !d.Equal(NewDate(2025, 3, 28).Time) {
		t.Fatalf("second step = %s, want 2025-03-28", d.ISO())
	}
}
