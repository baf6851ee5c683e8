// Package http provides the read-only HTTP surface of the scheduler.
//
// The router exposes the following endpoints:
//   - GET /healthz: liveness plus storage checks. Response:
//     {"status","repository_version","checks":{name: "ok"|error}}; 503 when a
//     check fails.
//   - GET /metrics: Prometheus exposition of the scheduler registry.
//   - GET /appointments: occurrence blocks as {"blocks":[{"start","end",
//     "appointment_id","reservation_id","whole_days","repeating"}]}. The window
//     is start/end (RFC 3339) or one of day=YYYY-MM-DD, week=YYYY-MM-DD,
//     month=YYYY-MM. user=<id>|me limits the result to one owner.
//   - GET /calendar.ics: the same selection as an iCalendar feed; the current
//     month when no window is given.
//
// The calendar routes take HTTP basic credentials checked against the user
// password table. Errors share the JSON shape {"error_code","message","errors"}.
package http
