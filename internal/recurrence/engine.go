package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Type identifies how a series advances from one occurrence to the next.
type Type int

const (
	// TypeUnspecified indicates the rule type is not set.
	TypeUnspecified Type = iota
	// TypeDaily advances by interval days.
	TypeDaily
	// TypeWeekly advances by interval weeks.
	TypeWeekly
	// TypeMonthly advances to the same weekday ordinal (e.g. 3rd Tuesday) of a later month.
	TypeMonthly
	// TypeYearly advances to the same month and day of a later year.
	TypeYearly
)

var typeNames = map[Type]string{
	TypeDaily:   "daily",
	TypeWeekly:  "weekly",
	TypeMonthly: "monthly",
	TypeYearly:  "yearly",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unspecified"
}

// ParseType maps a type name back to its Type.
func ParseType(name string) (Type, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == normalized {
			return t, nil
		}
	}
	return TypeUnspecified, fmt.Errorf("%w: %q", ErrInvalidType, name)
}

// FixedLength reports whether every interval of the type has the same
// wall-clock duration.
func (t Type) FixedLength() bool {
	return t == TypeDaily || t == TypeWeekly
}

func (t Type) frequency() time.Duration {
	if t == TypeWeekly {
		return 7 * day
	}
	return day
}

// ErrInvalidType indicates the recurrence type is not supported.
var ErrInvalidType = errors.New("recurrence: invalid type")

// ErrInvalidWindow indicates an unbounded series was expanded without an end bound.
var ErrInvalidWindow = errors.New("recurrence: generation window requires an end bound")

// ErrInvalidDuration indicates the base appointment duration is negative.
var ErrInvalidDuration = errors.New("recurrence: appointment duration must not be negative")

// Rule describes how an appointment repeats. Exactly one of Count and Until
// terminates the series; when both are unset the series never ends.
type Rule struct {
	Type     Type
	Interval int
	// Count is the fixed number of occurrences, or 0 when the series is
	// bounded by Until or unbounded.
	Count int
	// Until is the exclusive end of the series when Count is 0.
	Until      *time.Time
	Exceptions []time.Time
}

// Occurrence is one concrete instance produced by a rule.
type Occurrence struct {
	Start     time.Time
	End       time.Time
	Exception bool
}

func (r Rule) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// Step advances t by one interval of the rule. start anchors the weekday
// ordinal and the day of month used by variable-length rules.
func (r Rule) Step(start, t time.Time) time.Time {
	n := r.interval()
	switch r.Type {
	case TypeDaily:
		return t.AddDate(0, 0, n)
	case TypeWeekly:
		return t.AddDate(0, 0, 7*n)
	case TypeMonthly:
		ordinal := WeekdayOrdinal(start)
		for i := 0; i < n; i++ {
			t = NextMonthly(t, ordinal)
		}
		return t
	case TypeYearly:
		for i := 0; i < n; i++ {
			t = NextYearly(t, start.Month(), start.Day())
		}
		return t
	default:
		panic(fmt.Sprintf("recurrence: step on %s rule", r.Type))
	}
}

// FixedIntervalLength returns interval × frequency for daily and weekly rules.
func (r Rule) FixedIntervalLength() time.Duration {
	return time.Duration(r.interval()) * r.Type.frequency()
}

// IntervalLength returns the length of the interval beginning at s, measured
// on the wall clock. It panics when the calendar yields a non-positive length.
func (r Rule) IntervalLength(start, s time.Time) time.Duration {
	if r.Type.FixedLength() {
		return r.FixedIntervalLength()
	}
	next := r.Step(start, s)
	length := Floating(next).Sub(Floating(s))
	if length <= 0 {
		panic(fmt.Sprintf("recurrence: non-positive interval %s after %s", length, s))
	}
	return length
}

// End returns the end of a series starting at start, or nil when the series
// is unbounded. For fixed-count daily and weekly rules it is the day boundary
// that closes the day of the last occurrence. For fixed-count monthly and
// yearly rules it is the start of the last occurrence itself.
func (r Rule) End(start time.Time) *time.Time {
	if r.Count <= 0 {
		if r.Until == nil {
			return nil
		}
		end := *r.Until
		return &end
	}
	if r.Type.FixedLength() {
		end := Fill(start.AddDate(0, 0, (r.Count-1)*r.interval()*int(r.Type.frequency()/day)))
		return &end
	}
	last := start
	for i := 1; i < r.Count; i++ {
		last = r.Step(start, last)
	}
	return &last
}

// includes reports whether an occurrence starting at t lies within a series
// ending at end. Daily and weekly ends are exclusive, monthly and yearly ends
// are inclusive.
func (r Rule) includes(t, end time.Time) bool {
	if r.Type.FixedLength() {
		return t.Before(end)
	}
	return !t.After(end)
}

// Number returns the number of occurrences in a series starting at start, or
// -1 when the series is unbounded.
func (r Rule) Number(start time.Time) int {
	if r.Count > 0 {
		return r.Count
	}
	if r.Until == nil {
		return -1
	}
	end := *r.Until
	if r.Type.FixedLength() {
		span := Floating(end).Sub(Floating(Fill(start)))
		if span < 0 {
			return 0
		}
		return int(span/r.FixedIntervalLength()) + 1
	}
	number := 0
	for t := start; r.includes(t, end); t = r.Step(start, t) {
		number++
	}
	return number
}

// IsException reports whether t falls within the 24 hours following one of
// the rule's exception dates.
func (r Rule) IsException(t time.Time) bool {
	for _, d := range r.Exceptions {
		if !t.Before(d) && t.Before(d.Add(day)) {
			return true
		}
	}
	return false
}

// Window bounds occurrence generation. A zero End leaves the window open.
type Window struct {
	Start time.Time
	End   time.Time
}

// Engine expands recurrence rules into occurrences.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that does its calendar arithmetic in loc.
// If loc is nil, the local time zone is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{location: loc}
}

// Location returns the time zone the engine computes in.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.Local
	}
	return e.location
}

// Occurrences expands the series of an appointment spanning [start, end)
// into the occurrences that overlap the window. Exceptions are reported, not
// dropped. Results are ordered by start.
//
// The engine enforces the following semantics:
//   - Calendar arithmetic happens in the engine's time zone on wall-clock
//     fields, so occurrences keep their local time across DST changes.
//   - A series with neither Count nor Until needs a window end.
//   - An occurrence overlaps the window when it starts before the window end
//     and ends after the window start.
func (e *Engine) Occurrences(rule Rule, start, end time.Time, window Window) ([]Occurrence, error) {
	if rule.Type < TypeDaily || rule.Type > TypeYearly {
		return nil, ErrInvalidType
	}
	loc := e.Location()
	start = start.In(loc)
	end = end.In(loc)
	if end.Before(start) {
		return nil, ErrInvalidDuration
	}
	duration := Floating(end).Sub(Floating(start))

	seriesEnd := rule.End(start)
	if seriesEnd == nil && window.End.IsZero() {
		return nil, ErrInvalidWindow
	}

	current := start
	index := 0
	if rule.Type.FixedLength() && !window.Start.IsZero() {
		// Jump close to the window instead of walking every interval.
		lead := Floating(window.Start.In(loc)).Sub(Floating(start)) - duration
		if lead > 0 {
			skip := int(lead / rule.FixedIntervalLength())
			if rule.Count > 0 && skip > rule.Count {
				skip = rule.Count
			}
			index = skip
			current = start.AddDate(0, 0, skip*rule.interval()*int(rule.Type.frequency()/day))
		}
	}

	var occurrences []Occurrence
	for {
		if rule.Count > 0 && index >= rule.Count {
			break
		}
		if seriesEnd != nil && !rule.includes(current, *seriesEnd) {
			break
		}
		if !window.End.IsZero() && !current.Before(window.End) {
			break
		}
		occEnd := Unfloat(Floating(current).Add(duration), loc)
		if window.Start.IsZero() || occEnd.After(window.Start) {
			occurrences = append(occurrences, Occurrence{
				Start:     current,
				End:       occEnd,
				Exception: rule.IsException(current),
			})
		}
		index++
		if rule.Type.FixedLength() {
			current = start.AddDate(0, 0, index*rule.interval()*int(rule.Type.frequency()/day))
		} else {
			current = rule.Step(start, current)
		}
	}
	return occurrences, nil
}

// SortExceptions orders exception dates and drops duplicates in place.
func SortExceptions(dates []time.Time) []time.Time {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	out := dates[:0]
	for i, d := range dates {
		if i > 0 && d.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, d)
	}
	return out
}
