package scheduler

import (
	"slices"
	"time"

	"github.com/example/resource-scheduler/internal/entity"
)

// Conflict details one overlap between a block of the candidate reservation
// and a block of an existing reservation on a shared allocatable.
type Conflict struct {
	Allocatable entity.ID
	// Appointment is the candidate appointment.
	Appointment entity.ID
	// Reservation is the existing reservation and OtherAppointment its
	// overlapping appointment.
	Reservation      entity.ID
	OtherAppointment entity.ID
	Start            time.Time
	End              time.Time
}

// Window bounds conflict detection. A zero side is open; an open end only
// works for series that terminate.
type Window struct {
	Start time.Time
	End   time.Time
}

// DetectConflicts identifies conflicts for the candidate reservation against
// existing ones. Allocatables that hold back conflicts, or that cannot be
// resolved, are skipped. Exception blocks never conflict. The candidate
// itself is ignored when it appears among existing.
func DetectConflicts(candidate *entity.Reservation, existing []*entity.Reservation, allocatables entity.Resolver, window Window) []Conflict {
	if candidate == nil {
		return nil
	}
	var conflicts []Conflict
	for _, alloc := range candidate.Allocatables() {
		if !checksConflicts(allocatables, alloc) {
			continue
		}
		mine := activeBlocks(candidate.AppointmentsFor(alloc), window)
		if len(mine) == 0 {
			continue
		}
		for _, other := range existing {
			if other == nil || other.ID() == candidate.ID() {
				continue
			}
			theirs := activeBlocks(other.AppointmentsFor(alloc), window)
			conflicts = append(conflicts, overlaps(alloc, other.ID(), mine, theirs)...)
		}
	}
	slices.SortStableFunc(conflicts, compareConflicts)
	return conflicts
}

func checksConflicts(r entity.Resolver, id entity.ID) bool {
	if r == nil {
		return true
	}
	e, err := r.Resolve(id)
	if err != nil {
		return false
	}
	a, ok := e.(*entity.Allocatable)
	return ok && !a.HoldBackConflicts()
}

func activeBlocks(appointments []*entity.Appointment, window Window) []entity.Block {
	blocks := entity.BlocksOf(appointments, window.Start, window.End)
	return slices.DeleteFunc(blocks, func(b entity.Block) bool { return b.Exception })
}

// overlaps compares two block lists sorted by start.
func overlaps(alloc, reservation entity.ID, mine, theirs []entity.Block) []Conflict {
	var out []Conflict
	for _, b := range mine {
		for _, o := range theirs {
			if !o.Start.Before(b.End) {
				break
			}
			if !b.Overlaps(o) {
				continue
			}
			out = append(out, Conflict{
				Allocatable:      alloc,
				Appointment:      b.Appointment.ID(),
				Reservation:      reservation,
				OtherAppointment: o.Appointment.ID(),
				Start:            later(b.Start, o.Start),
				End:              earlier(b.End, o.End),
			})
		}
	}
	return out
}

func compareConflicts(a, b Conflict) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if c := a.Allocatable.Compare(b.Allocatable); c != 0 {
		return c
	}
	if c := a.Reservation.Compare(b.Reservation); c != 0 {
		return c
	}
	return a.OtherAppointment.Compare(b.OtherAppointment)
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
