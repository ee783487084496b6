// Package recurrence describes how a recurring task repeats and computes the
// calendar dates it lands on. It performs no I/O and never reads the clock.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Frequency is the unit a pattern repeats in.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

func (f Frequency) valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// ErrInvalidPattern matches every *InvalidPatternError via errors.Is.
var ErrInvalidPattern = errors.New("invalid recurrence pattern")

// InvalidPatternError lists every constraint a pattern violates.
type InvalidPatternError struct {
	Violations []string
}

func (e *InvalidPatternError) Error() string {
	return ErrInvalidPattern.Error() + ": " + strings.Join(e.Violations, "; ")
}

func (e *InvalidPatternError) Is(target error) bool {
	return target == ErrInvalidPattern
}

// Pattern is the repeat rule of one template. Treat it as immutable.
type Pattern struct {
	Frequency Frequency
	// Interval repeats every N units of Frequency.
	Interval int
	// DaysOfWeek applies to weekly patterns only; empty means the anchor's weekday.
	DaysOfWeek []time.Weekday
	// DayOfMonth applies to monthly patterns only; 0 means the anchor's day.
	DayOfMonth int
	// EndDate, if set, is the last date an occurrence may fall on.
	EndDate *time.Time
	// MaxOccurrences caps the total number of instances ever generated; 0 means no cap.
	MaxOccurrences int
}

// PatternInput is unvalidated pattern data as it arrives from a user.
type PatternInput struct {
	Frequency      string
	Interval       int
	DaysOfWeek     []int
	DayOfMonth     int
	EndDate        *time.Time
	MaxOccurrences int
}

// NewPattern validates raw input against the template's anchor date.
func NewPattern(in PatternInput, anchor time.Time) (Pattern, error) {
	p := Pattern{
		Frequency:      Frequency(strings.ToLower(strings.TrimSpace(in.Frequency))),
		Interval:       in.Interval,
		DayOfMonth:     in.DayOfMonth,
		MaxOccurrences: in.MaxOccurrences,
	}
	if in.EndDate != nil {
		end := Day(*in.EndDate)
		p.EndDate = &end
	}

	seen := make(map[int]bool, len(in.DaysOfWeek))
	for _, d := range in.DaysOfWeek {
		if seen[d] {
			continue
		}
		seen[d] = true
		p.DaysOfWeek = append(p.DaysOfWeek, time.Weekday(d))
	}
	sort.Slice(p.DaysOfWeek, func(i, j int) bool { return p.DaysOfWeek[i] < p.DaysOfWeek[j] })

	if err := p.Validate(anchor); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// Validate reports all violated constraints as an *InvalidPatternError.
func (p Pattern) Validate(anchor time.Time) error {
	var violations []string
	if !p.Frequency.valid() {
		violations = append(violations, fmt.Sprintf("unknown frequency %q", p.Frequency))
	}
	if p.Interval < 1 {
		violations = append(violations, fmt.Sprintf("interval must be at least 1, got %d", p.Interval))
	}
	if p.DayOfMonth != 0 && (p.DayOfMonth < 1 || p.DayOfMonth > 31) {
		violations = append(violations, fmt.Sprintf("dayOfMonth must be in [1,31], got %d", p.DayOfMonth))
	}
	for _, d := range p.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			violations = append(violations, fmt.Sprintf("daysOfWeek entry must be in [0,6], got %d", int(d)))
		}
	}
	if p.MaxOccurrences < 0 {
		violations = append(violations, fmt.Sprintf("maxOccurrences must be positive, got %d", p.MaxOccurrences))
	}
	if p.EndDate != nil && !anchor.IsZero() && Day(*p.EndDate).Before(Day(anchor)) {
		violations = append(violations, fmt.Sprintf("endDate %s is before anchorDate %s",
			Day(*p.EndDate).Format(time.DateOnly), Day(anchor).Format(time.DateOnly)))
	}
	if len(violations) > 0 {
		return &InvalidPatternError{Violations: violations}
	}
	return nil
}

// HasEnd reports whether the pattern stops on its own.
func (p Pattern) HasEnd() bool {
	return p.EndDate != nil || p.MaxOccurrences > 0
}
