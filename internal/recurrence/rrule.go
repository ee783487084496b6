package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"
)

var rruleFreq = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

var rruleWeekday = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// ROption converts p into rrule-go options anchored at anchor.
//
// The result describes the pattern; it is not used to compute dates because
// RFC 5545 skips months that lack BYMONTHDAY where this package clamps.
func (p Pattern) ROption(anchor time.Time, weekStart time.Weekday) rrule.ROption {
	opt := rrule.ROption{
		Freq:     rruleFreq[p.Frequency],
		Interval: p.Interval,
		Dtstart:  Day(anchor),
		Wkst:     rruleWeekday[weekStart],
		Count:    p.MaxOccurrences,
	}
	if p.EndDate != nil {
		opt.Until = Day(*p.EndDate)
	}
	switch p.Frequency {
	case Weekly:
		for _, d := range p.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, rruleWeekday[d])
		}
	case Monthly:
		if p.DayOfMonth != 0 {
			opt.Bymonthday = []int{p.DayOfMonth}
		}
	}
	return opt
}

// RRule renders p as the value of an RFC 5545 RRULE property, e.g.
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE". weekStart must match the Calculator's
// for the rule to describe the same dates; WKST is omitted when it is Monday.
func (p Pattern) RRule(anchor time.Time, weekStart time.Weekday) string {
	opt := p.ROption(anchor, weekStart)
	return opt.RRuleString()
}
