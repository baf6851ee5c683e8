package ical_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/ical"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/testfixtures"
)

func monday(hour int) time.Time {
	return time.Date(2024, time.January, 8, hour, 0, 0, 0, time.UTC)
}

func export(t *testing.T, w *testfixtures.World, reservations ...*entity.Reservation) *ics.Calendar {
	t.Helper()
	x := ical.NewExporter(w.Cache, ical.Options{Domain: "example.com", Now: testfixtures.ReferenceTime()})
	var buf bytes.Buffer
	if err := x.Write(&buf, reservations); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	cal, err := ics.ParseCalendar(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ParseCalendar failed: %v\n%s", err, buf.String())
	}
	return cal
}

func property(e *ics.VEvent, p ics.ComponentProperty) string {
	if prop := e.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func values(e *ics.VEvent, p ics.ComponentProperty) []string {
	var out []string
	for _, prop := range e.Properties {
		if prop.IANAToken == string(p) {
			out = append(out, prop.Value)
		}
	}
	return out
}

func TestExporterSingleAppointment(t *testing.T) {
	t.Parallel()

	w := testfixtures.NewWorld(t)
	res := w.NewReservation(t, 1, w.Alice.ID(), "Standup", [2]time.Time{monday(9), monday(10)})
	for _, id := range []entity.ID{w.RoomA.ID(), w.Carol.ID()} {
		if err := res.AddAllocatable(id); err != nil {
			t.Fatalf("AddAllocatable: %v", err)
		}
	}
	w.Store(res)

	events := export(t, w, res).Events()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	e := events[0]
	app := res.Appointments()[0]

	checks := map[ics.ComponentProperty]string{
		ics.ComponentPropertyUniqueId:  app.ID().String() + "@example.com",
		ics.ComponentPropertySummary:   "Standup",
		ics.ComponentPropertyLocation:  "Room A",
		ics.ComponentPropertyDtStart:   "20240108T090000Z",
		ics.ComponentPropertyDtEnd:     "20240108T100000Z",
		ics.ComponentPropertyAttendee:  "mailto:carol@example.com",
		ics.ComponentPropertyOrganizer: "mailto:alice@example.com",
		ics.ComponentPropertySequence:  "0",
	}
	for prop, want := range checks {
		if got := property(e, prop); got != want {
			t.Errorf("%s: expected %q, got %q", prop, want, got)
		}
	}
	if property(e, ics.ComponentPropertyRrule) != "" {
		t.Errorf("expected no RRULE for a single appointment")
	}
}

func TestExporterRepeatingAppointment(t *testing.T) {
	t.Parallel()

	w := testfixtures.NewWorld(t)
	res := w.NewReservation(t, 1, w.Bob.ID(), "Weekly", [2]time.Time{monday(9), monday(10)})
	rep, err := res.Appointments()[0].SetRepeatingType(recurrence.TypeWeekly)
	if err != nil {
		t.Fatalf("SetRepeatingType: %v", err)
	}
	if err := rep.SetNumber(3); err != nil {
		t.Fatalf("SetNumber: %v", err)
	}
	if err := rep.AddException(monday(0).AddDate(0, 0, 7)); err != nil {
		t.Fatalf("AddException: %v", err)
	}
	w.Store(res)

	events := export(t, w, res).Events()
	if len(events) != 1 {
		t.Fatalf("expected the series as one event, got %d", len(events))
	}
	rrule := property(events[0], ics.ComponentPropertyRrule)
	if !strings.Contains(rrule, "FREQ=WEEKLY") || !strings.Contains(rrule, "COUNT=3") {
		t.Fatalf("unexpected RRULE %q", rrule)
	}
	exdates := values(events[0], ics.ComponentPropertyExdate)
	if len(exdates) != 1 || exdates[0] != "20240115T090000Z" {
		t.Fatalf("expected the second occurrence excluded, got %v", exdates)
	}
}

func TestExporterWholeDayAppointment(t *testing.T) {
	t.Parallel()

	w := testfixtures.NewWorld(t)
	res := w.NewReservation(t, 1, w.Bob.ID(), "Offsite", [2]time.Time{monday(0), monday(0).AddDate(0, 0, 2)})
	if err := res.Appointments()[0].SetWholeDays(true); err != nil {
		t.Fatalf("SetWholeDays: %v", err)
	}
	w.Store(res)

	e := export(t, w, res).Events()[0]
	start := e.GetProperty(ics.ComponentPropertyDtStart)
	if start == nil || start.Value != "20240108" {
		t.Fatalf("expected a DATE start, got %+v", start)
	}
	if got := start.ICalParameters[string(ics.ParameterValue)]; len(got) != 1 || got[0] != "DATE" {
		t.Fatalf("expected VALUE=DATE, got %v", got)
	}
	if got := property(e, ics.ComponentPropertyDtEnd); got != "20240110" {
		t.Fatalf("expected an exclusive DATE end, got %q", got)
	}
}

func TestExporterExpandsUnrepresentableSeries(t *testing.T) {
	t.Parallel()

	w := testfixtures.NewWorld(t)
	// The fifth Monday of January; every other month has no rule form.
	start := time.Date(2024, time.January, 29, 9, 0, 0, 0, time.UTC)
	res := w.NewReservation(t, 1, w.Bob.ID(), "Review", [2]time.Time{start, start.Add(time.Hour)})
	rep, err := res.Appointments()[0].SetRepeatingType(recurrence.TypeMonthly)
	if err != nil {
		t.Fatalf("SetRepeatingType: %v", err)
	}
	if err := rep.SetInterval(2); err != nil {
		t.Fatalf("SetInterval: %v", err)
	}
	if err := rep.SetNumber(3); err != nil {
		t.Fatalf("SetNumber: %v", err)
	}
	w.Store(res)

	events := export(t, w, res).Events()
	if len(events) != 3 {
		t.Fatalf("expected one event per occurrence, got %d", len(events))
	}
	seen := map[string]bool{}
	for _, e := range events {
		if property(e, ics.ComponentPropertyRrule) != "" {
			t.Fatalf("expected expanded events without RRULE")
		}
		seen[property(e, ics.ComponentPropertyUniqueId)] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected distinct uids, got %v", seen)
	}
}

func TestExporterNamedLocation(t *testing.T) {
	t.Parallel()

	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	w := testfixtures.NewWorld(t)
	start := time.Date(2024, time.March, 25, 9, 0, 0, 0, berlin)
	res := w.NewReservation(t, 1, w.Bob.ID(), "Local", [2]time.Time{start, start.Add(time.Hour)})
	w.Store(res)

	prop := export(t, w, res).Events()[0].GetProperty(ics.ComponentPropertyDtStart)
	if prop == nil || prop.Value != "20240325T090000" {
		t.Fatalf("expected floating wall time, got %+v", prop)
	}
	if tz := prop.ICalParameters[string(ics.ParameterTzid)]; len(tz) != 1 || tz[0] != "Europe/Berlin" {
		t.Fatalf("expected TZID Europe/Berlin, got %v", tz)
	}
}
