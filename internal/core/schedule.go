package core

import "time"

// NextRunDate returns the occurrence date one cadence step after runDate.
//
// Daily advances one day, weekly seven days. Monthly advances one
// calendar month keeping the same day-of-month where it exists, clamping
// to the last day of the target month otherwise (Jan 31 -> Feb 28/29).
func NextRunDate(runDate Date, cadence Cadence) (Date, error) {
	switch cadence {
	case Daily:
		return Date{Time: runDate.AddDate(0, 0, 1)}, nil
	case Weekly:
		return Date{Time: runDate.AddDate(0, 0, 7)}, nil
	case Monthly:
		return addOneMonthClamped(runDate), nil
	default:
		return Date{}, ErrUnknownCadence
	}
}

func addOneMonthClamped(d Date) Date {
	year, month, day := d.Date()
	// Day 0 of the month after next is the last day of the target month.
	lastDay := time.Date(year, month+2, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	return NewDate(year, int(month)+1, day)
}
