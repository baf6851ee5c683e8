package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/ical"
)

type calendarService interface {
	ListAppointments(ctx context.Context, params application.ListAppointmentsParams) ([]entity.Block, error)
	ExportCalendar(ctx context.Context, params application.ListAppointmentsParams, opts ical.Options) ([]byte, error)
}

// CalendarHandler serves appointment blocks as JSON and reservations as an
// iCalendar feed.
type CalendarHandler struct {
	service   calendarService
	responder responder
	logger    *slog.Logger
	location  *time.Location
	feed      ical.Options
}

// NewCalendarHandler returns a handler that evaluates period presets in loc
// (the process location when nil) and stamps feeds with feed.
func NewCalendarHandler(service calendarService, loc *time.Location, feed ical.Options, logger *slog.Logger) *CalendarHandler {
	if loc == nil {
		loc = time.Local
	}
	return &CalendarHandler{
		service:   service,
		responder: newResponder(logger),
		logger:    defaultLogger(logger),
		location:  loc,
		feed:      feed,
	}
}

func (h *CalendarHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "CalendarHandler", operation, attrs...)
}

// Appointments handles GET /appointments.
func (h *CalendarHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params, err := h.buildListParams(r.URL.Query(), principal)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	blocks, err := h.service.ListAppointments(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Appointments").DebugContext(r.Context(), "appointments served", "block_count", len(blocks))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listResponse{Blocks: toBlockDTOs(blocks)})
}

// ICS handles GET /calendar.ics. Without an explicit window the feed covers
// the current month.
func (h *CalendarHandler) ICS(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	params, err := h.buildListParams(query, principal)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	if params.Period == application.ListPeriodNone && params.Start.IsZero() && params.End.IsZero() {
		params.Period = application.ListPeriodMonth
	}

	body, err := h.service.ExportCalendar(r.Context(), params, h.feed)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.log(r.Context(), "ICS").WarnContext(r.Context(), "failed to write calendar", "error", err)
	}
}

// buildListParams reads start/end (RFC 3339), day/week/month presets and the
// optional user filter.
func (h *CalendarHandler) buildListParams(values url.Values, principal application.Principal) (application.ListAppointmentsParams, error) {
	params := application.ListAppointmentsParams{Principal: principal, Location: h.location}

	if user := strings.TrimSpace(values.Get("user")); user != "" {
		if user == "me" {
			params.OwnerID = principal.UserID
		} else {
			id, err := entity.ParseIDOfType(entity.TypeUser, user)
			if err != nil {
				return params, errInvalidUserID
			}
			params.OwnerID = id
		}
	}

	var err error
	if params.Start, err = parseInstant(values.Get("start")); err != nil {
		return params, errBadQuery
	}
	if params.End, err = parseInstant(values.Get("end")); err != nil {
		return params, errBadQuery
	}

	presets := []struct {
		key    string
		layout string
		period application.ListPeriod
	}{
		{"day", "2006-01-02", application.ListPeriodDay},
		{"week", "2006-01-02", application.ListPeriodWeek},
		{"month", "2006-01", application.ListPeriodMonth},
	}
	for _, p := range presets {
		value := strings.TrimSpace(values.Get(p.key))
		if value == "" {
			continue
		}
		ts, err := time.ParseInLocation(p.layout, value, h.location)
		if err != nil {
			return params, errBadQuery
		}
		params.Period = p.period
		params.Reference = ts
		break
	}

	return params, nil
}

func parseInstant(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

type listResponse struct {
	Blocks []blockDTO `json:"blocks"`
}

type blockDTO struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Appointment entity.ID `json:"appointment_id"`
	Reservation entity.ID `json:"reservation_id"`
	WholeDays   bool      `json:"whole_days,omitempty"`
	Repeating   bool      `json:"repeating,omitempty"`
}

func toBlockDTOs(blocks []entity.Block) []blockDTO {
	out := make([]blockDTO, 0, len(blocks))
	for _, b := range blocks {
		dto := blockDTO{Start: b.Start, End: b.End}
		if app := b.Appointment; app != nil {
			dto.Appointment = app.ID()
			dto.Reservation = app.Reservation()
			dto.WholeDays = app.IsWholeDaysSet()
			dto.Repeating = app.Repeating() != nil
		}
		out = append(out, dto)
	}
	return out
}
