package recurrence

import "time"

const day = 24 * time.Hour

// Day truncates t to its calendar date (in t's own location) and returns
// that date at midnight UTC. All dates handled by this package are in this form.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// daysBetween counts whole days from a to b. Both must be normalized by Day.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / day)
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// clampedDate builds year-month-day, pulling day back to the month's last day
// when the month is shorter.
func clampedDate(year int, month time.Month, dayOfMonth int) time.Time {
	// Normalize month overflow first so DaysIn sees a real month.
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	if last := DaysIn(first.Year(), first.Month()); dayOfMonth > last {
		dayOfMonth = last
	}
	return time.Date(first.Year(), first.Month(), dayOfMonth, 0, 0, 0, 0, time.UTC)
}
