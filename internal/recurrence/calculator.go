package recurrence

import (
	"fmt"
	"time"
)

// Calculator maps a pattern and a date window to candidate occurrence dates.
// The zero value starts weeks on Sunday.
type Calculator struct {
	// WeekStart decides where calendar weeks break for weekly patterns with
	// an interval greater than one.
	WeekStart time.Weekday
}

func NewCalculator(weekStart time.Weekday) Calculator {
	return Calculator{WeekStart: weekStart}
}

// Occurrences returns the ascending dates on which p fires inside the inclusive
// window [windowStart, windowEnd]. Dates before the anchor or after the
// pattern's EndDate are never returned. MaxOccurrences is not applied here:
// the calculator does not know how many instances already exist.
func (c Calculator) Occurrences(p Pattern, anchor, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if err := p.Validate(anchor); err != nil {
		return nil, err
	}

	anchor = Day(anchor)
	start, end := Day(windowStart), Day(windowEnd)
	if start.Before(anchor) {
		start = anchor
	}
	if p.EndDate != nil {
		if last := Day(*p.EndDate); last.Before(end) {
			end = last
		}
	}
	if end.Before(start) {
		return nil, nil
	}

	switch p.Frequency {
	case Daily:
		return everyNDays(anchor, start, end, p.Interval), nil
	case Weekly:
		if len(p.DaysOfWeek) == 0 {
			return everyNDays(anchor, start, end, 7*p.Interval), nil
		}
		return c.weeklyOnDays(p, anchor, start, end), nil
	case Monthly:
		dom := p.DayOfMonth
		if dom == 0 {
			dom = anchor.Day()
		}
		return everyNMonths(anchor, start, end, p.Interval, dom), nil
	case Yearly:
		return everyNYears(anchor, start, end, p.Interval), nil
	}
	return nil, fmt.Errorf("unhandled frequency %q", p.Frequency)
}

// everyNDays yields anchor + k*step for k >= 0 inside [start, end]; start must not precede anchor.
func everyNDays(anchor, start, end time.Time, step int) []time.Time {
	offset := daysBetween(anchor, start)
	k := (offset + step - 1) / step

	var out []time.Time
	for d := anchor.AddDate(0, 0, k*step); !d.After(end); d = d.AddDate(0, 0, step) {
		out = append(out, d)
	}
	return out
}

func (c Calculator) weeklyOnDays(p Pattern, anchor, start, end time.Time) []time.Time {
	var wanted [7]bool
	for _, d := range p.DaysOfWeek {
		wanted[d] = true
	}

	anchorWeek := c.weekOf(anchor)
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !wanted[d.Weekday()] {
			continue
		}
		if weeks := daysBetween(anchorWeek, c.weekOf(d)) / 7; weeks%p.Interval == 0 {
			out = append(out, d)
		}
	}
	return out
}

// weekOf returns the first day of the calendar week containing d.
func (c Calculator) weekOf(d time.Time) time.Time {
	back := (int(d.Weekday()) - int(c.WeekStart) + 7) % 7
	return d.AddDate(0, 0, -back)
}

func everyNMonths(anchor, start, end time.Time, interval, dom int) []time.Time {
	k := 0
	if m := monthsBetween(anchor, start); m > 0 {
		k = m / interval
	}

	var out []time.Time
	for ; ; k++ {
		d := clampedDate(anchor.Year(), anchor.Month()+time.Month(k*interval), dom)
		if d.After(end) {
			break
		}
		if d.Before(start) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func everyNYears(anchor, start, end time.Time, interval int) []time.Time {
	k := 0
	if y := start.Year() - anchor.Year(); y > 0 {
		k = y / interval
	}

	var out []time.Time
	for ; ; k++ {
		d := clampedDate(anchor.Year()+k*interval, anchor.Month(), anchor.Day())
		if d.After(end) {
			break
		}
		if d.Before(start) {
			continue
		}
		out = append(out, d)
	}
	return out
}
