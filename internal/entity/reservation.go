package entity

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ErrForeignAppointment indicates an appointment that already belongs to
// another reservation.
var ErrForeignAppointment = errors.New("entity: appointment belongs to another reservation")

// Reservation books allocatables for its appointments.
type Reservation struct {
	Base
	classification *Classification
	appointments   []*Appointment
	// restrictions limits an allocatable to a subset of the appointments.
	// A missing or empty entry means all appointments.
	restrictions map[ID][]ID
}

// NewReservation creates a writable reservation.
func NewReservation(id ID, classification *Classification) *Reservation {
	mustType(id, TypeReservation)
	r := &Reservation{Base: newBase(id), restrictions: make(map[ID][]ID)}
	r.setClassification(classification)
	return r
}

func (r *Reservation) setClassification(c *Classification) {
	if c != nil {
		c.owner = r.id
		c.readOnly = r.readOnly
	}
	r.classification = c
}

func (r *Reservation) Classification() *Classification { return r.classification }

func (r *Reservation) SetClassification(c *Classification) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	r.setClassification(c)
	return nil
}

func (r *Reservation) Name() string {
	if name := r.classification.Name(); name != "" {
		return name
	}
	return r.id.String()
}

// Appointments returns the owned appointments in insertion order.
func (r *Reservation) Appointments() []*Appointment { return slices.Clone(r.appointments) }

// Appointment looks up an owned appointment.
func (r *Reservation) Appointment(id ID) (*Appointment, bool) {
	for _, a := range r.appointments {
		if a.id == id {
			return a, true
		}
	}
	return nil, false
}

// AddAppointment takes ownership of a. Adding an appointment that belongs to
// another reservation fails.
func (r *Reservation) AddAppointment(a *Appointment) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	if !a.reservation.IsZero() && a.reservation != r.id {
		return fmt.Errorf("%w: %s is owned by %s", ErrForeignAppointment, a.id, a.reservation)
	}
	if a.reservation != r.id {
		if err := a.checkWritable(); err != nil {
			return err
		}
		a.reservation = r.id
	}
	for i, existing := range r.appointments {
		if existing.id == a.id {
			r.appointments[i] = a
			return nil
		}
	}
	r.appointments = append(r.appointments, a)
	return nil
}

// RemoveAppointment drops the appointment and strips it from restrictions.
func (r *Reservation) RemoveAppointment(id ID) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	r.appointments = slices.DeleteFunc(r.appointments, func(a *Appointment) bool { return a.id == id })
	for alloc, apps := range r.restrictions {
		apps = slices.DeleteFunc(apps, func(app ID) bool { return app == id })
		if len(apps) == 0 {
			delete(r.restrictions, alloc)
		} else {
			r.restrictions[alloc] = apps
		}
	}
	return nil
}

// Allocatables returns the allocated resources and persons.
func (r *Reservation) Allocatables() []ID { return r.refs.List(RefResources) }

func (r *Reservation) AddAllocatable(id ID) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	mustType(id, TypeAllocatable)
	r.refs.Add(RefResources, id)
	return nil
}

// RemoveAllocatable drops the allocatable and its restriction.
func (r *Reservation) RemoveAllocatable(id ID) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	r.refs.RemoveID(RefResources, id)
	delete(r.restrictions, id)
	return nil
}

// HasAllocated reports whether the allocatable is booked for any appointment.
func (r *Reservation) HasAllocated(alloc ID) bool {
	return r.refs.Contains(RefResources, alloc)
}

// HasAllocatedOn reports whether the allocatable is booked for the appointment.
func (r *Reservation) HasAllocatedOn(alloc, appointment ID) bool {
	if !r.HasAllocated(alloc) {
		return false
	}
	restriction := r.restrictions[alloc]
	return len(restriction) == 0 || slices.Contains(restriction, appointment)
}

// SetRestriction limits the allocatable to the given appointments. An empty
// list removes the restriction.
func (r *Reservation) SetRestriction(alloc ID, appointments []ID) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	if len(appointments) == 0 {
		delete(r.restrictions, alloc)
		return nil
	}
	var kept []ID
	for _, id := range appointments {
		if _, ok := r.Appointment(id); ok && !slices.Contains(kept, id) {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(r.restrictions, alloc)
		return nil
	}
	r.restrictions[alloc] = kept
	return nil
}

// Restriction returns the appointments the allocatable is limited to.
func (r *Reservation) Restriction(alloc ID) []ID { return slices.Clone(r.restrictions[alloc]) }

// Restrictions returns a copy of the restriction map.
func (r *Reservation) Restrictions() map[ID][]ID {
	out := make(map[ID][]ID, len(r.restrictions))
	for k, v := range r.restrictions {
		out[k] = slices.Clone(v)
	}
	return out
}

// AppointmentsFor returns the appointments the allocatable is booked for.
func (r *Reservation) AppointmentsFor(alloc ID) []*Appointment {
	if !r.HasAllocated(alloc) {
		return nil
	}
	var out []*Appointment
	for _, a := range r.appointments {
		if r.HasAllocatedOn(alloc, a.id) {
			out = append(out, a)
		}
	}
	return out
}

// AllocatablesFor returns the allocatables booked for the appointment.
func (r *Reservation) AllocatablesFor(appointment ID) []ID {
	var out []ID
	for _, alloc := range r.Allocatables() {
		if r.HasAllocatedOn(alloc, appointment) {
			out = append(out, alloc)
		}
	}
	return out
}

// RestrictedAllocatables returns the allocatables whose restriction names
// the appointment.
func (r *Reservation) RestrictedAllocatables(appointment ID) []ID {
	var out []ID
	for _, alloc := range slices.SortedFunc(maps.Keys(r.restrictions), ID.Compare) {
		if slices.Contains(r.restrictions[alloc], appointment) {
			out = append(out, alloc)
		}
	}
	return out
}

func (r *Reservation) allocatablesWhere(res Resolver, person bool) ([]*Allocatable, error) {
	var out []*Allocatable
	for _, id := range r.Allocatables() {
		e, err := res.Resolve(id)
		if err != nil {
			return nil, err
		}
		a, ok := e.(*Allocatable)
		if !ok {
			return nil, fmt.Errorf("entity: %s is not an allocatable", id)
		}
		if a.IsPerson() == person {
			out = append(out, a)
		}
	}
	return out, nil
}

// Persons returns the allocated persons.
func (r *Reservation) Persons(res Resolver) ([]*Allocatable, error) {
	return r.allocatablesWhere(res, true)
}

// Resources returns the allocated allocatables that are not persons.
func (r *Reservation) Resources(res Resolver) ([]*Allocatable, error) {
	return r.allocatablesWhere(res, false)
}

// FirstDate returns the earliest appointment start, or the zero time.
func (r *Reservation) FirstDate() time.Time {
	var first time.Time
	for _, a := range r.appointments {
		if first.IsZero() || a.start.Before(first) {
			first = a.start
		}
	}
	return first
}

// MaxEnd returns the latest occurrence end, or nil when an appointment
// repeats forever or there are no appointments.
func (r *Reservation) MaxEnd() *time.Time {
	var last *time.Time
	for _, a := range r.appointments {
		end := a.MaxEnd()
		if end == nil {
			return nil
		}
		if last == nil || end.After(*last) {
			last = end
		}
	}
	return last
}

func (r *Reservation) SetReadOnly(readOnly bool) {
	r.readOnly = readOnly
	if r.classification != nil {
		r.classification.readOnly = readOnly
	}
	for _, a := range r.appointments {
		a.SetReadOnly(readOnly)
	}
}

func (r *Reservation) SubEntities() []Entity {
	out := make([]Entity, 0, len(r.appointments))
	for _, a := range r.appointments {
		out = append(out, a)
	}
	return out
}

func (r *Reservation) References() *References {
	return withClassification(r.refs, r.classification)
}

func (r *Reservation) copyFields(src *Reservation) {
	r.setClassification(src.classification.Clone())
	r.restrictions = src.Restrictions()
}

// Snapshot returns a writable copy sharing the appointments.
func (r *Reservation) Snapshot() *Reservation {
	out := &Reservation{Base: copyBase(&r.Base)}
	out.copyFields(r)
	out.appointments = slices.Clone(r.appointments)
	return out
}

// DeepSnapshot returns a writable copy with writable copies of the appointments.
func (r *Reservation) DeepSnapshot() *Reservation {
	out := &Reservation{Base: copyBase(&r.Base)}
	out.copyFields(r)
	out.appointments = make([]*Appointment, len(r.appointments))
	for i, a := range r.appointments {
		out.appointments[i] = a.Snapshot()
	}
	return out
}

func (r *Reservation) applyFrom(src *Reservation) error {
	r.applyBase(&src.Base)
	r.copyFields(src)
	r.appointments = make([]*Appointment, len(src.appointments))
	for i, a := range src.appointments {
		r.appointments[i] = a.Snapshot()
	}
	return nil
}
