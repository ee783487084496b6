package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

func TestNewPattern_Valid(t *testing.T) {
	p, err := NewPattern(PatternInput{
		Frequency:  " Weekly ",
		Interval:   2,
		DaysOfWeek: []int{3, 1, 3},
	}, date(2024, 1, 1))
	require.NoError(t, err)

	assert.Equal(t, Weekly, p.Frequency)
	assert.Equal(t, 2, p.Interval)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, p.DaysOfWeek)
	assert.False(t, p.HasEnd())
}

func TestNewPattern_NormalizesEndDate(t *testing.T) {
	end := time.Date(2024, 3, 1, 17, 45, 0, 0, time.UTC)
	p, err := NewPattern(PatternInput{Frequency: "daily", Interval: 1, EndDate: &end}, date(2024, 1, 1))
	require.NoError(t, err)

	require.NotNil(t, p.EndDate)
	assert.Equal(t, date(2024, 3, 1), *p.EndDate)
	assert.True(t, p.HasEnd())
}

func TestNewPattern_ListsEveryViolation(t *testing.T) {
	end := date(2023, 12, 31)
	_, err := NewPattern(PatternInput{
		Frequency:      "hourly",
		Interval:       0,
		DaysOfWeek:     []int{-1, 7},
		DayOfMonth:     32,
		EndDate:        &end,
		MaxOccurrences: -2,
	}, date(2024, 1, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	var invalid *InvalidPatternError
	require.True(t, errors.As(err, &invalid))
	assert.Len(t, invalid.Violations, 7)
	assert.Contains(t, err.Error(), `unknown frequency "hourly"`)
	assert.Contains(t, err.Error(), "interval must be at least 1, got 0")
	assert.Contains(t, err.Error(), "dayOfMonth must be in [1,31], got 32")
	assert.Contains(t, err.Error(), "got -1")
	assert.Contains(t, err.Error(), "got 7")
	assert.Contains(t, err.Error(), "maxOccurrences must be positive")
	assert.Contains(t, err.Error(), "endDate 2023-12-31 is before anchorDate 2024-01-01")
}

func TestPattern_ValidateEachConstraint(t *testing.T) {
	anchor := date(2024, 5, 10)
	tests := []struct {
		name    string
		pattern Pattern
		wantErr bool
	}{
		{"daily ok", Pattern{Frequency: Daily, Interval: 1}, false},
		{"interval zero", Pattern{Frequency: Daily, Interval: 0}, true},
		{"negative interval", Pattern{Frequency: Monthly, Interval: -3}, true},
		{"day of month 31 ok", Pattern{Frequency: Monthly, Interval: 1, DayOfMonth: 31}, false},
		{"day of month negative", Pattern{Frequency: Monthly, Interval: 1, DayOfMonth: -1}, true},
		{"saturday ok", Pattern{Frequency: Weekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Saturday}}, false},
		{"weekday eight", Pattern{Frequency: Weekly, Interval: 1, DaysOfWeek: []time.Weekday{8}}, true},
		{"end on anchor ok", Pattern{Frequency: Daily, Interval: 1, EndDate: ptr(anchor)}, false},
		{"end before anchor", Pattern{Frequency: Daily, Interval: 1, EndDate: ptr(anchor.AddDate(0, 0, -1))}, true},
		{"both end conditions ok", Pattern{Frequency: Daily, Interval: 1, EndDate: ptr(anchor.AddDate(0, 1, 0)), MaxOccurrences: 4}, false},
		{"empty frequency", Pattern{Interval: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pattern.Validate(anchor)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPattern)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPattern_RRule(t *testing.T) {
	p := Pattern{Frequency: Weekly, Interval: 2, DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday}}
	s := p.RRule(date(2024, 1, 1), time.Monday)

	assert.Contains(t, s, "FREQ=WEEKLY")
	assert.Contains(t, s, "INTERVAL=2")
	assert.Contains(t, s, "BYDAY=MO,WE")

	monthly := Pattern{Frequency: Monthly, Interval: 1, DayOfMonth: 31, MaxOccurrences: 6}
	s = monthly.RRule(date(2024, 1, 31), time.Monday)
	assert.Contains(t, s, "FREQ=MONTHLY")
	assert.Contains(t, s, "BYMONTHDAY=31")
	assert.Contains(t, s, "COUNT=6")
	assert.NotContains(t, s, "WKST")
}

func TestPattern_RRuleWeekStart(t *testing.T) {
	p := Pattern{Frequency: Weekly, Interval: 2, DaysOfWeek: []time.Weekday{time.Sunday, time.Wednesday}}
	anchor := date(2024, 1, 3)

	assert.Contains(t, p.RRule(anchor, time.Sunday), "WKST=SU")
	assert.NotContains(t, p.RRule(anchor, time.Monday), "WKST")

	// With a Sunday week start the engine's dates and the rendered rule agree.
	calc := NewCalculator(time.Sunday)
	got, err := calc.Occurrences(p, anchor, anchor, date(2024, 2, 3))
	require.NoError(t, err)
	rule, err := rrule.NewRRule(p.ROption(anchor, time.Sunday))
	require.NoError(t, err)
	assert.Equal(t, rule.Between(anchor, date(2024, 2, 3), true), got)
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 28, DaysIn(2023, time.February))
	assert.Equal(t, 30, DaysIn(2024, time.April))
	assert.Equal(t, 31, DaysIn(2024, time.December))
}
