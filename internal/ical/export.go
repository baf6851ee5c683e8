// Package ical renders reservations as an RFC 5545 calendar.
package ical

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/recurrence"
)

const (
	localLayout  = "20060102T150405"
	utcLayout    = "20060102T150405Z"
	dateLayout   = "20060102"
	defaultProd  = "-//resource-scheduler//calendar export//EN"
	defaultHost  = "resource-scheduler"
	expandWindow = 365 * 24 * time.Hour
)

// Options tunes an export.
type Options struct {
	ProductID string
	// Domain is the right-hand side of event UIDs.
	Domain string
	Now    time.Time
	// Start and End bound the expansion of series that cannot be written as
	// an RRULE. A zero End expands one year past the series start.
	Start time.Time
	End   time.Time
}

// Exporter turns reservations into VEVENTs. Every appointment becomes one
// event; repeating appointments carry their RRULE and EXDATEs.
type Exporter struct {
	resolver entity.Resolver
	opts     Options
}

// NewExporter returns an exporter that looks up allocatables and owners
// through resolver.
func NewExporter(resolver entity.Resolver, opts Options) *Exporter {
	if opts.ProductID == "" {
		opts.ProductID = defaultProd
	}
	if opts.Domain == "" {
		opts.Domain = defaultHost
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	return &Exporter{resolver: resolver, opts: opts}
}

// Calendar builds a VCALENDAR holding the appointments of reservations.
func (x *Exporter) Calendar(reservations []*entity.Reservation) (*ics.Calendar, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(x.opts.ProductID)

	var errs []error
	for _, res := range reservations {
		for _, app := range res.Appointments() {
			if err := x.addAppointment(cal, res, app); err != nil {
				errs = append(errs, fmt.Errorf("ical: appointment %s: %w", app.ID(), err))
			}
		}
	}
	return cal, errors.Join(errs...)
}

// Write serialises the calendar of reservations to w.
func (x *Exporter) Write(w io.Writer, reservations []*entity.Reservation) error {
	cal, err := x.Calendar(reservations)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, cal.Serialize())
	return err
}

func (x *Exporter) addAppointment(cal *ics.Calendar, res *entity.Reservation, app *entity.Appointment) error {
	rep := app.Repeating()
	if rep == nil {
		x.addEvent(cal, x.uid(app, -1), res, app, app.Start(), app.End())
		return nil
	}

	rule := rep.Rule()
	value, err := rule.ToRRule(app.Start())
	if errors.Is(err, recurrence.ErrNotRepresentable) {
		return x.addExpanded(cal, res, app)
	}
	if err != nil {
		return err
	}

	event := x.addEvent(cal, x.uid(app, -1), res, app, app.Start(), app.End())
	event.AddProperty(ics.ComponentPropertyRrule, value)
	for _, ex := range exceptionStarts(app) {
		x.setTime(event, ics.ComponentPropertyExdate, ex, app.IsWholeDaysSet(), true)
	}
	return nil
}

// addExpanded writes one event per occurrence for series that RRULE cannot
// describe.
func (x *Exporter) addExpanded(cal *ics.Calendar, res *entity.Reservation, app *entity.Appointment) error {
	start, end := x.opts.Start, x.opts.End
	if end.IsZero() {
		end = app.Start().Add(expandWindow)
		if maxEnd := app.MaxEnd(); maxEnd != nil {
			end = *maxEnd
		}
	}
	for i, b := range app.Blocks(start, end) {
		if b.Exception {
			continue
		}
		x.addEvent(cal, x.uid(app, i), res, app, b.Start, b.End)
	}
	return nil
}

func (x *Exporter) addEvent(cal *ics.Calendar, uid string, res *entity.Reservation, app *entity.Appointment, start, end time.Time) *ics.VEvent {
	event := cal.AddEvent(uid)
	event.SetDtStampTime(x.opts.Now)
	if created := res.CreateDate(); !created.IsZero() {
		event.SetCreatedTime(created)
	}
	if changed := res.LastChanged(); !changed.IsZero() {
		event.SetModifiedAt(changed)
	}
	event.SetProperty(ics.ComponentPropertySequence, strconv.FormatInt(res.Version(), 10))
	event.SetSummary(res.Name())

	wholeDays := app.IsWholeDaysSet()
	x.setTime(event, ics.ComponentPropertyDtStart, start, wholeDays, false)
	if wholeDays {
		end = nextMidnight(end)
	}
	x.setTime(event, ics.ComponentPropertyDtEnd, end, wholeDays, false)

	var places []string
	for _, id := range res.AllocatablesFor(app.ID()) {
		alloc, ok := x.allocatable(id)
		if !ok {
			continue
		}
		if alloc.IsPerson() {
			if email := alloc.Email(); email != "" {
				event.AddProperty(ics.ComponentPropertyAttendee, "mailto:"+email,
					&ics.KeyValues{Key: string(ics.ParameterCn), Value: []string{alloc.Name()}})
			}
			continue
		}
		places = append(places, alloc.Name())
	}
	if len(places) > 0 {
		event.SetLocation(strings.Join(places, ", "))
	}
	if owner, ok := x.user(res.Owner()); ok && owner.DisplayEmail(x.resolver) != "" {
		event.SetProperty(ics.ComponentPropertyOrganizer, "mailto:"+owner.DisplayEmail(x.resolver),
			&ics.KeyValues{Key: string(ics.ParameterCn), Value: []string{owner.DisplayName(x.resolver)}})
	}
	return event
}

// setTime writes t as a DATE for whole-day appointments, in UTC for UTC and
// process-local times, and with a TZID otherwise so that series keep their
// wall-clock time across DST changes.
func (x *Exporter) setTime(event *ics.VEvent, prop ics.ComponentProperty, t time.Time, wholeDays, add bool) {
	var (
		value  string
		params []ics.PropertyParameter
	)
	switch loc := t.Location(); {
	case wholeDays:
		value = t.Format(dateLayout)
		params = append(params, &ics.KeyValues{Key: string(ics.ParameterValue), Value: []string{"DATE"}})
	case loc == time.UTC || loc == time.Local:
		value = t.UTC().Format(utcLayout)
	default:
		value = t.Format(localLayout)
		params = append(params, &ics.KeyValues{Key: string(ics.ParameterTzid), Value: []string{loc.String()}})
	}
	if add {
		event.AddProperty(prop, value, params...)
		return
	}
	event.SetProperty(prop, value, params...)
}

func (x *Exporter) uid(app *entity.Appointment, occurrence int) string {
	if occurrence < 0 {
		return fmt.Sprintf("%s@%s", app.ID(), x.opts.Domain)
	}
	return fmt.Sprintf("%s-%d@%s", app.ID(), occurrence, x.opts.Domain)
}

func (x *Exporter) allocatable(id entity.ID) (*entity.Allocatable, bool) {
	if x.resolver == nil {
		return nil, false
	}
	e, err := x.resolver.Resolve(id)
	if err != nil {
		return nil, false
	}
	a, ok := e.(*entity.Allocatable)
	return a, ok
}

func (x *Exporter) user(id entity.ID) (*entity.User, bool) {
	if x.resolver == nil || id.IsZero() {
		return nil, false
	}
	e, err := x.resolver.Resolve(id)
	if err != nil {
		return nil, false
	}
	u, ok := e.(*entity.User)
	return u, ok
}

// exceptionStarts maps exception dates to the start of the occurrence they
// suppress. An exception covers the 24 hours after its instant.
func exceptionStarts(app *entity.Appointment) []time.Time {
	var out []time.Time
	for _, ex := range app.Repeating().Exceptions() {
		for _, b := range app.Blocks(ex, ex.Add(24*time.Hour)) {
			if b.Exception && !b.Start.Before(ex) && b.Start.Before(ex.Add(24*time.Hour)) {
				out = append(out, b.Start)
			}
		}
	}
	return out
}

func nextMidnight(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	if midnight.Equal(t) {
		return t
	}
	return midnight.AddDate(0, 0, 1)
}
