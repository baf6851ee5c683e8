package entity

import (
	"slices"
	"time"

	"github.com/example/resource-scheduler/internal/recurrence"
)

// Repeating is the recurrence rule of an appointment. It is owned by the
// appointment, follows its read-only state and is anchored at its start.
type Repeating struct {
	rule        recurrence.Rule
	anchor      time.Time
	appointment ID
	readOnly    bool
}

func newRepeating(t recurrence.Type, appointment ID, anchor time.Time) *Repeating {
	return &Repeating{
		rule:        recurrence.Rule{Type: t, Interval: 1},
		anchor:      anchor,
		appointment: appointment,
	}
}

func (r *Repeating) checkWritable() error {
	if r.readOnly {
		return &ReadOnlyError{ID: r.appointment}
	}
	return nil
}

// Appointment returns the id of the owning appointment.
func (r *Repeating) Appointment() ID { return r.appointment }

// Rule returns a copy of the underlying rule.
func (r *Repeating) Rule() recurrence.Rule {
	rule := r.rule
	rule.Exceptions = slices.Clone(r.rule.Exceptions)
	if r.rule.Until != nil {
		until := *r.rule.Until
		rule.Until = &until
	}
	return rule
}

func (r *Repeating) Type() recurrence.Type { return r.rule.Type }

// SetType changes how the series advances. Termination and exceptions are kept.
func (r *Repeating) SetType(t recurrence.Type) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	if t < recurrence.TypeDaily || t > recurrence.TypeYearly {
		return recurrence.ErrInvalidType
	}
	r.rule.Type = t
	return nil
}

func (r *Repeating) Interval() int {
	if r.rule.Interval < 1 {
		return 1
	}
	return r.rule.Interval
}

// SetInterval sets the step between occurrences. Values below 1 become 1.
func (r *Repeating) SetInterval(interval int) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	if interval < 1 {
		interval = 1
	}
	r.rule.Interval = interval
	return nil
}

// IsFixedNumber reports whether the series ends after a fixed count.
func (r *Repeating) IsFixedNumber() bool { return r.rule.Count > 0 }

// Number returns the occurrence count, or -1 for an unbounded series.
func (r *Repeating) Number() int { return r.rule.Number(r.anchor) }

// SetNumber bounds the series by count and clears any end date. A negative
// number makes the series unbounded; 0 is raised to 1.
func (r *Repeating) SetNumber(number int) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	r.rule.Until = nil
	if number > -1 {
		r.rule.Count = max(number, 1)
	} else {
		r.rule.Count = 0
	}
	return nil
}

// End returns the end of the series, or nil when it is unbounded. Daily and
// weekly ends are exclusive day boundaries; monthly and yearly ends are the
// start of the last occurrence.
func (r *Repeating) End() *time.Time { return r.rule.End(r.anchor) }

// SetEnd bounds the series by date and clears the fixed count. nil makes the
// series unbounded.
func (r *Repeating) SetEnd(end *time.Time) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	r.rule.Count = 0
	if end == nil {
		r.rule.Until = nil
		return nil
	}
	until := *end
	r.rule.Until = &until
	return nil
}

// IsUnbounded reports whether the series repeats forever.
func (r *Repeating) IsUnbounded() bool {
	return r.rule.Count <= 0 && r.rule.Until == nil
}

// IntervalLength returns the wall-clock length of the interval starting at s.
func (r *Repeating) IntervalLength(s time.Time) time.Duration {
	return r.rule.IntervalLength(r.anchor, s)
}

// Exceptions returns the exception dates in ascending order.
func (r *Repeating) Exceptions() []time.Time { return slices.Clone(r.rule.Exceptions) }

func (r *Repeating) AddException(date time.Time) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	r.rule.Exceptions = recurrence.SortExceptions(append(r.rule.Exceptions, date))
	return nil
}

func (r *Repeating) RemoveException(date time.Time) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	r.rule.Exceptions = slices.DeleteFunc(r.rule.Exceptions, func(d time.Time) bool { return d.Equal(date) })
	return nil
}

func (r *Repeating) ClearExceptions() error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	r.rule.Exceptions = nil
	return nil
}

// IsException reports whether t lies within 24 hours after an exception date.
func (r *Repeating) IsException(t time.Time) bool { return r.rule.IsException(t) }

// Clone returns a writable copy with its own exception set.
func (r *Repeating) Clone() *Repeating {
	return &Repeating{
		rule:        r.Rule(),
		anchor:      r.anchor,
		appointment: r.appointment,
	}
}

// SetFrom copies type, termination, interval and exceptions from other.
func (r *Repeating) SetFrom(other *Repeating) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	r.rule = other.Rule()
	return nil
}
