package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrNotRepresentable indicates a rule cannot be expressed as an RFC 5545 RRULE
// without changing the occurrences it produces, or the reverse.
var ErrNotRepresentable = errors.New("recurrence: rule not representable")

var rruleWeekdays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

func rruleWeekday(d time.Weekday) rrule.Weekday {
	return rruleWeekdays[(int(d)+6)%7]
}

func sameWeekday(wd rrule.Weekday, d time.Weekday) bool {
	anchor := rruleWeekday(d)
	return wd.Day() == anchor.Day()
}

// ROption converts the rule of a series starting at start to rrule options.
// UNTIL is inclusive in RFC 5545, so the exclusive Until of daily and weekly
// rules is moved back one second.
func (r Rule) ROption(start time.Time) (rrule.ROption, error) {
	opt := rrule.ROption{
		Dtstart:  start,
		Interval: r.interval(),
		Count:    r.Count,
	}
	switch r.Type {
	case TypeDaily:
		opt.Freq = rrule.DAILY
	case TypeWeekly:
		opt.Freq = rrule.WEEKLY
	case TypeMonthly:
		ordinal := WeekdayOrdinal(start)
		if ordinal == 5 && r.interval() > 1 {
			// Months without a 5th occurrence do not count as steps here,
			// but RRULE INTERVAL counts calendar months.
			return rrule.ROption{}, fmt.Errorf("%w: every %d months on a 5th weekday", ErrNotRepresentable, r.interval())
		}
		opt.Freq = rrule.MONTHLY
		wd := rruleWeekday(start.Weekday())
		opt.Byweekday = []rrule.Weekday{wd.Nth(ordinal)}
	case TypeYearly:
		if start.Month() == time.February && start.Day() == 29 && r.interval() > 1 {
			return rrule.ROption{}, fmt.Errorf("%w: every %d years on Feb 29", ErrNotRepresentable, r.interval())
		}
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(start.Month())}
		opt.Bymonthday = []int{start.Day()}
	default:
		return rrule.ROption{}, ErrInvalidType
	}
	if r.Count <= 0 && r.Until != nil {
		opt.Until = *r.Until
		if r.Type.FixedLength() {
			opt.Until = opt.Until.Add(-time.Second)
		}
	}
	return opt, nil
}

// ToRRule renders the rule as the value of an RRULE property.
func (r Rule) ToRRule(start time.Time) (string, error) {
	opt, err := r.ROption(start)
	if err != nil {
		return "", err
	}
	opt.Dtstart = time.Time{}
	return opt.RRuleString(), nil
}

// FromRRule parses an RRULE value for a series starting at start. Only rules
// that the four repeating types can express are accepted.
func FromRRule(value string, start time.Time) (Rule, error) {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return Rule{}, fmt.Errorf("recurrence: parse rrule: %w", err)
	}
	rule := Rule{Interval: opt.Interval, Count: opt.Count}
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	switch opt.Freq {
	case rrule.DAILY:
		rule.Type = TypeDaily
		if len(opt.Byweekday) > 0 {
			return Rule{}, fmt.Errorf("%w: BYDAY on a daily rule", ErrNotRepresentable)
		}
	case rrule.WEEKLY:
		rule.Type = TypeWeekly
		for _, wd := range opt.Byweekday {
			if !sameWeekday(wd, start.Weekday()) {
				return Rule{}, fmt.Errorf("%w: weekly rule on %v", ErrNotRepresentable, wd)
			}
		}
	case rrule.MONTHLY:
		rule.Type = TypeMonthly
		if len(opt.Byweekday) > 1 || len(opt.Bymonthday) > 0 {
			return Rule{}, fmt.Errorf("%w: monthly rule with %q", ErrNotRepresentable, value)
		}
		if len(opt.Byweekday) == 1 {
			wd := opt.Byweekday[0]
			if !sameWeekday(wd, start.Weekday()) || wd.N() != WeekdayOrdinal(start) {
				return Rule{}, fmt.Errorf("%w: monthly anchor %v does not match start", ErrNotRepresentable, wd)
			}
		}
	case rrule.YEARLY:
		rule.Type = TypeYearly
		for _, m := range opt.Bymonth {
			if time.Month(m) != start.Month() {
				return Rule{}, fmt.Errorf("%w: yearly rule in month %d", ErrNotRepresentable, m)
			}
		}
		for _, d := range opt.Bymonthday {
			if d != start.Day() {
				return Rule{}, fmt.Errorf("%w: yearly rule on day %d", ErrNotRepresentable, d)
			}
		}
	default:
		return Rule{}, fmt.Errorf("%w: frequency %v", ErrNotRepresentable, opt.Freq)
	}
	if rule.Count <= 0 && !opt.Until.IsZero() {
		until := opt.Until
		if rule.Type.FixedLength() {
			until = until.Add(time.Second)
		}
		rule.Until = &until
	}
	return rule, nil
}
