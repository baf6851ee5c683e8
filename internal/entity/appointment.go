package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/resource-scheduler/internal/recurrence"
)

// ErrInvalidPeriod indicates an appointment whose end precedes its start.
var ErrInvalidPeriod = errors.New("entity: appointment end before start")

// Appointment is a sub-entity of exactly one reservation.
type Appointment struct {
	Base
	start       time.Time
	end         time.Time
	wholeDays   bool
	repeating   *Repeating
	reservation ID
}

func mustType(id ID, t Type) {
	if id.Type != t {
		panic(fmt.Sprintf("entity: id %s is not a %s", id, t))
	}
}

// NewAppointment creates a writable appointment spanning [start, end).
func NewAppointment(id ID, start, end time.Time) *Appointment {
	mustType(id, TypeAppointment)
	if end.Before(start) {
		end = start
	}
	return &Appointment{Base: newBase(id), start: start, end: end}
}

func (a *Appointment) Start() time.Time { return a.start }

func (a *Appointment) End() time.Time { return a.end }

func (a *Appointment) Duration() time.Duration {
	return recurrence.Floating(a.end).Sub(recurrence.Floating(a.start))
}

// SetPeriod changes start and end. The repeating rule is re-anchored.
func (a *Appointment) SetPeriod(start, end time.Time) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("%w: %s < %s", ErrInvalidPeriod, end, start)
	}
	a.start = start
	a.end = end
	if a.repeating != nil {
		a.repeating.anchor = start
	}
	return nil
}

// Move shifts the appointment to start while keeping its wall-clock duration.
func (a *Appointment) Move(start time.Time) error {
	end := recurrence.Unfloat(recurrence.Floating(start).Add(a.Duration()), start.Location())
	return a.SetPeriod(start, end)
}

func (a *Appointment) IsWholeDaysSet() bool { return a.wholeDays }

func (a *Appointment) SetWholeDays(wholeDays bool) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	a.wholeDays = wholeDays
	return nil
}

// Repeating returns the recurrence rule or nil when the appointment happens once.
func (a *Appointment) Repeating() *Repeating { return a.repeating }

// SetRepeatingType makes the appointment repeat with the given type. An
// existing rule keeps its termination and exceptions.
func (a *Appointment) SetRepeatingType(t recurrence.Type) (*Repeating, error) {
	if err := a.checkWritable(); err != nil {
		return nil, err
	}
	if a.repeating == nil {
		if t < recurrence.TypeDaily || t > recurrence.TypeYearly {
			return nil, recurrence.ErrInvalidType
		}
		a.repeating = newRepeating(t, a.id, a.start)
		return a.repeating, nil
	}
	if err := a.repeating.SetType(t); err != nil {
		return nil, err
	}
	return a.repeating, nil
}

// ClearRepeating turns the appointment into a single occurrence.
func (a *Appointment) ClearRepeating() error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	a.repeating = nil
	return nil
}

// Reservation returns the id of the owning reservation, or the zero ID for
// an orphan.
func (a *Appointment) Reservation() ID { return a.reservation }

// MaxEnd returns an upper bound for the end of the last occurrence, or nil
// when the appointment repeats forever.
func (a *Appointment) MaxEnd() *time.Time {
	if a.repeating == nil {
		end := a.end
		return &end
	}
	rule := a.repeating.rule
	if rule.Count > 0 {
		last := a.start
		for i := 1; i < rule.Count; i++ {
			last = rule.Step(a.start, last)
		}
		end := recurrence.Unfloat(recurrence.Floating(last).Add(a.Duration()), last.Location())
		return &end
	}
	if rule.Until == nil {
		return nil
	}
	end := recurrence.Unfloat(recurrence.Floating(*rule.Until).Add(a.Duration()), rule.Until.Location())
	return &end
}

// Overlaps reports whether any occurrence, exceptions included, intersects
// [start, end). A zero start or end leaves that side of the window open.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	if !end.IsZero() && !a.start.Before(end) {
		return false
	}
	if a.repeating == nil {
		return start.IsZero() || a.end.After(start)
	}
	if maxEnd := a.MaxEnd(); maxEnd != nil && !start.IsZero() && !maxEnd.After(start) {
		return false
	}
	if end.IsZero() {
		// The first occurrence starts before an open end; any later one
		// decides the overlap with start.
		return true
	}
	return len(a.occurrences(start, end)) > 0
}

func (a *Appointment) occurrences(start, end time.Time) []recurrence.Occurrence {
	if a.repeating == nil {
		if (end.IsZero() || a.start.Before(end)) && (start.IsZero() || a.end.After(start)) {
			return []recurrence.Occurrence{{Start: a.start, End: a.end}}
		}
		return nil
	}
	engine := recurrence.NewEngine(a.start.Location())
	occurrences, err := engine.Occurrences(a.repeating.rule, a.start, a.end, recurrence.Window{Start: start, End: end})
	if err != nil {
		// Unbounded series with an open window end.
		return nil
	}
	return occurrences
}

// Blocks materialises the occurrences that overlap [start, end). Exceptions
// are included and flagged.
func (a *Appointment) Blocks(start, end time.Time) []Block {
	occurrences := a.occurrences(start, end)
	blocks := make([]Block, 0, len(occurrences))
	for _, occ := range occurrences {
		blocks = append(blocks, Block{Start: occ.Start, End: occ.End, Appointment: a, Exception: occ.Exception})
	}
	return blocks
}

// Compare orders appointments by start, then end, then id.
func (a *Appointment) Compare(other *Appointment) int {
	if c := a.start.Compare(other.start); c != 0 {
		return c
	}
	if c := a.end.Compare(other.end); c != 0 {
		return c
	}
	return a.id.Compare(other.id)
}

func (a *Appointment) SetReadOnly(readOnly bool) {
	a.readOnly = readOnly
	if a.repeating != nil {
		a.repeating.readOnly = readOnly
	}
}

func (a *Appointment) SubEntities() []Entity { return nil }

// Snapshot returns a writable copy with its own repeating rule.
func (a *Appointment) Snapshot() *Appointment {
	out := &Appointment{
		Base:        copyBase(&a.Base),
		start:       a.start,
		end:         a.end,
		wholeDays:   a.wholeDays,
		reservation: a.reservation,
	}
	if a.repeating != nil {
		out.repeating = a.repeating.Clone()
	}
	return out
}

func (a *Appointment) applyFrom(src *Appointment) error {
	a.applyBase(&src.Base)
	a.start = src.start
	a.end = src.end
	a.wholeDays = src.wholeDays
	a.reservation = src.reservation
	a.repeating = nil
	if src.repeating != nil {
		a.repeating = src.repeating.Clone()
	}
	return nil
}
