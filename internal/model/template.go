package model

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"recurring-planner/internal/recurrence"
)

// Template is the source of truth for a recurring series. GeneratedUntil,
// OccurrencesGenerated and Version are written only by generation.
type Template struct {
	ID          uint  `gorm:"primaryKey"`
	UserID      uint  `gorm:"index"`
	CategoryID  *uint `gorm:"index"`
	Title       string
	Description string

	Frequency      string
	Interval       int      `gorm:"column:repeat_interval"`
	DaysOfWeek     Weekdays `gorm:"type:text"`
	DayOfMonth     int
	EndDate        *time.Time
	MaxOccurrences int

	AnchorDate           time.Time
	GeneratedUntil       *time.Time
	OccurrencesGenerated int
	Active               bool `gorm:"index"`
	// Version increments on every cursor write and guards against stale updates.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pattern returns the template's repeat rule.
func (t Template) Pattern() recurrence.Pattern {
	return recurrence.Pattern{
		Frequency:      recurrence.Frequency(t.Frequency),
		Interval:       t.Interval,
		DaysOfWeek:     []time.Weekday(t.DaysOfWeek),
		DayOfMonth:     t.DayOfMonth,
		EndDate:        t.EndDate,
		MaxOccurrences: t.MaxOccurrences,
	}
}

// SetPattern copies p onto the template's columns.
func (t *Template) SetPattern(p recurrence.Pattern) {
	t.Frequency = string(p.Frequency)
	t.Interval = p.Interval
	t.DaysOfWeek = Weekdays(p.DaysOfWeek)
	t.DayOfMonth = p.DayOfMonth
	t.EndDate = p.EndDate
	t.MaxOccurrences = p.MaxOccurrences
}

// Weekdays is stored as a comma separated list of weekday numbers, e.g. "1,3".
type Weekdays []time.Weekday

func (w Weekdays) String() string {
	parts := make([]string, len(w))
	for i, d := range w {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

// ParseWeekdays is the inverse of Weekdays.String.
func ParseWeekdays(s string) (Weekdays, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out Weekdays
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("parse weekday %q: %w", part, err)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}

// Value implements driver.Valuer.
func (w Weekdays) Value() (driver.Value, error) {
	return w.String(), nil
}

// Scan implements sql.Scanner.
func (w *Weekdays) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		*w = nil
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("scan weekdays: unsupported type %T", src)
	}
	parsed, err := ParseWeekdays(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
