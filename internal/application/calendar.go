package application

import (
	"context"
	"fmt"

	"github.com/example/resource-scheduler/internal/ical"
	"github.com/example/resource-scheduler/internal/storage"
)

// ExportCalendar renders the reservations of the requested window as an
// iCalendar document. Series that RRULE cannot express are expanded within
// the window.
func (s *ReservationService) ExportCalendar(ctx context.Context, params ListAppointmentsParams, opts ical.Options) (body []byte, err error) {
	if s == nil {
		return nil, fmt.Errorf("ReservationService is nil")
	}
	logger := s.loggerWith(ctx, "ExportCalendar", "principal_id", params.Principal.UserID.String())

	start, end, err := resolveListWindow(params)
	if err != nil {
		return nil, err
	}
	if opts.Now.IsZero() {
		opts.Now = s.service.now()
	}
	opts.Start, opts.End = start, end

	var text string
	err = s.service.View(func(c *storage.LocalCache) error {
		reservations := c.Reservations(params.OwnerID, start, end)
		cal, err := ical.NewExporter(c, opts).Calendar(reservations)
		if cal != nil {
			text = cal.Serialize()
		}
		if err != nil {
			logger.WarnContext(ctx, "calendar export incomplete", "error", err)
		}
		logger.DebugContext(ctx, "calendar exported", "reservation_count", len(reservations))
		return nil
	})
	return []byte(text), err
}
