package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/scheduler"
	"github.com/example/resource-scheduler/internal/storage"
)

// DefaultConflictHorizon bounds conflict detection for series that repeat
// forever.
const DefaultConflictHorizon = 365 * 24 * time.Hour

// ReservationService orchestrates validation, authorization, and commits for
// reservations and exposes the appointment calendar.
type ReservationService struct {
	service  *Service
	warnings *warningCache
	horizon  time.Duration
	logger   *slog.Logger
}

// ReservationServiceOption customises a ReservationService.
type ReservationServiceOption func(*ReservationService)

// WithConflictHorizon changes how far an unbounded series is checked for
// conflicts.
func WithConflictHorizon(d time.Duration) ReservationServiceOption {
	return func(s *ReservationService) {
		if d > 0 {
			s.horizon = d
		}
	}
}

// WithWarningCache sets the lifetime and capacity of cached warnings.
func WithWarningCache(ttl time.Duration, maxEntries int) ReservationServiceOption {
	return func(s *ReservationService) {
		s.warnings = newWarningCache(ttl, maxEntries, s.service.now)
	}
}

// NewReservationService wires dependencies for reservation operations.
func NewReservationService(service *Service, logger *slog.Logger, opts ...ReservationServiceOption) *ReservationService {
	s := &ReservationService{
		service: service,
		horizon: DefaultConflictHorizon,
		logger:  defaultLogger(logger),
	}
	s.warnings = newWarningCache(0, 0, service.now)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, attrs...)
}

// CreateReservation validates the request and commits a reservation with its
// appointments. Conflicts with other reservations are returned as warnings.
func (s *ReservationService) CreateReservation(ctx context.Context, params CreateReservationParams) (res *entity.Reservation, warnings []ConflictWarning, err error) {
	if s == nil {
		return nil, nil, fmt.Errorf("ReservationService is nil")
	}

	logger := s.loggerWith(ctx, "CreateReservation",
		"principal_id", params.Principal.UserID.String(),
		"appointment_count", len(params.Input.Appointments),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("reservation_id", res.ID().String(), "conflict_count", len(warnings)).
			InfoContext(ctx, "reservation created")
	}()

	owner := params.Input.OwnerID
	if owner.IsZero() {
		owner = params.Principal.UserID
	}
	if owner != params.Principal.UserID && !params.Principal.IsAdmin {
		return nil, nil, ErrUnauthorized
	}

	vErr := validateReservationInput(params.Input)
	var cls *entity.Classification
	_ = s.service.View(func(c *storage.LocalCache) error {
		cls = buildClassification(c, params.Input.ElementKey, params.Input.Values, vErr, entity.ClassificationReservation)
		return nil
	})
	if vErr.HasErrors() {
		return nil, nil, vErr
	}

	_, err = s.service.Transaction(ctx, params.Principal.UserID, func(tx *Transaction) error {
		id, err := s.service.Create(tx, entity.TypeReservation)
		if err != nil {
			return err
		}
		res = entity.NewReservation(id, cls)
		if err := res.SetOwner(owner); err != nil {
			return err
		}
		if err := s.applyReservationInput(tx, res, params.Input); err != nil {
			return err
		}
		return tx.Put(res)
	})
	if err != nil {
		return nil, nil, err
	}

	warnings, err = s.Conflicts(ctx, res.ID())
	return res, warnings, err
}

// UpdateReservation replaces the classification, appointments and
// allocations of a reservation. Only the owner or an administrator may
// update it, and only an administrator may hand it to another owner.
func (s *ReservationService) UpdateReservation(ctx context.Context, params UpdateReservationParams) (res *entity.Reservation, warnings []ConflictWarning, err error) {
	if s == nil {
		return nil, nil, fmt.Errorf("ReservationService is nil")
	}

	logger := s.loggerWith(ctx, "UpdateReservation",
		"principal_id", params.Principal.UserID.String(),
		"reservation_id", params.ReservationID.String(),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("conflict_count", len(warnings)).InfoContext(ctx, "reservation updated")
	}()

	current, err := s.authorize(params.Principal, params.ReservationID)
	if err != nil {
		return nil, nil, err
	}
	owner := params.Input.OwnerID
	if owner.IsZero() {
		owner = current
	}
	if owner != current && !params.Principal.IsAdmin {
		return nil, nil, ErrUnauthorized
	}

	vErr := validateReservationInput(params.Input)
	var cls *entity.Classification
	_ = s.service.View(func(c *storage.LocalCache) error {
		cls = buildClassification(c, params.Input.ElementKey, params.Input.Values, vErr, entity.ClassificationReservation)
		return nil
	})
	if vErr.HasErrors() {
		return nil, nil, vErr
	}

	_, err = s.service.Transaction(ctx, params.Principal.UserID, func(tx *Transaction) error {
		e, err := s.service.Edit(tx, params.ReservationID)
		if err != nil {
			return err
		}
		res = e.(*entity.Reservation)
		if err := res.SetClassification(cls); err != nil {
			return err
		}
		if err := res.SetOwner(owner); err != nil {
			return err
		}
		return s.applyReservationInput(tx, res, params.Input)
	})
	if err != nil {
		return nil, nil, err
	}

	warnings, err = s.Conflicts(ctx, res.ID())
	return res, warnings, err
}

// DeleteReservation removes a reservation and its appointments.
func (s *ReservationService) DeleteReservation(ctx context.Context, principal Principal, id entity.ID) error {
	if s == nil {
		return fmt.Errorf("ReservationService is nil")
	}
	if _, err := s.authorize(principal, id); err != nil {
		return err
	}
	_, err := s.service.Transaction(ctx, principal.UserID, func(tx *Transaction) error {
		return s.service.Remove(tx, id)
	})
	if err != nil {
		return err
	}
	s.loggerWith(ctx, "DeleteReservation", "reservation_id", id.String()).InfoContext(ctx, "reservation deleted")
	return nil
}

// authorize returns the owner of the stored reservation once the principal
// is allowed to change it.
func (s *ReservationService) authorize(principal Principal, id entity.ID) (entity.ID, error) {
	if id.Type != entity.TypeReservation {
		return entity.ID{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var owner entity.ID
	err := s.service.View(func(c *storage.LocalCache) error {
		e, ok := c.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		owner = e.(*entity.Reservation).Owner()
		return nil
	})
	if err != nil {
		return entity.ID{}, err
	}
	if owner != principal.UserID && !principal.IsAdmin {
		return entity.ID{}, ErrUnauthorized
	}
	return owner, nil
}

// applyReservationInput makes the appointments and allocations of res match
// input. Appointments with an id are updated in place, the others are
// created, and appointments missing from input are dropped.
func (s *ReservationService) applyReservationInput(tx *Transaction, res *entity.Reservation, input ReservationInput) error {
	ids := make([]entity.ID, len(input.Appointments))
	for i, in := range input.Appointments {
		var app *entity.Appointment
		if in.ID.IsZero() {
			id, err := s.service.Create(tx, entity.TypeAppointment)
			if err != nil {
				return err
			}
			app = entity.NewAppointment(id, in.Start, in.End)
			if err := res.AddAppointment(app); err != nil {
				return err
			}
		} else {
			existing, ok := res.Appointment(in.ID)
			if !ok {
				return &ValidationError{FieldErrors: map[string]string{
					fmt.Sprintf("appointments[%d].id", i): fmt.Sprintf("%s does not belong to the reservation", in.ID),
				}}
			}
			app = existing
			if err := app.SetPeriod(in.Start, in.End); err != nil {
				return err
			}
		}
		if err := app.SetWholeDays(in.WholeDays); err != nil {
			return err
		}
		if err := applyRepeating(app, in.Repeating); err != nil {
			return err
		}
		ids[i] = app.ID()
	}
	for _, app := range res.Appointments() {
		if !slices.Contains(ids, app.ID()) {
			if err := res.RemoveAppointment(app.ID()); err != nil {
				return err
			}
		}
	}

	for _, alloc := range res.Allocatables() {
		if !slices.Contains(input.Allocatables, alloc) {
			if err := res.RemoveAllocatable(alloc); err != nil {
				return err
			}
		}
	}
	for _, alloc := range input.Allocatables {
		if err := res.AddAllocatable(alloc); err != nil {
			return err
		}
		var restriction []entity.ID
		for _, idx := range input.Restrictions[alloc] {
			restriction = append(restriction, ids[idx])
		}
		if err := res.SetRestriction(alloc, restriction); err != nil {
			return err
		}
	}
	return nil
}

func applyRepeating(app *entity.Appointment, in *RepeatingInput) error {
	if in == nil {
		return app.ClearRepeating()
	}
	rep, err := app.SetRepeatingType(in.Type)
	if err != nil {
		return err
	}
	if err := rep.SetInterval(in.Interval); err != nil {
		return err
	}
	switch {
	case in.Number > 0:
		err = rep.SetNumber(in.Number)
	case in.Until != nil:
		err = rep.SetEnd(in.Until)
	default:
		err = rep.SetNumber(-1)
	}
	if err != nil {
		return err
	}
	if err := rep.ClearExceptions(); err != nil {
		return err
	}
	for _, ex := range in.Exceptions {
		if err := rep.AddException(ex); err != nil {
			return err
		}
	}
	return nil
}

func validateReservationInput(input ReservationInput) *ValidationError {
	vErr := &ValidationError{}

	if len(input.Appointments) == 0 {
		vErr.add("appointments", "at least one appointment is required")
	}
	for i, in := range input.Appointments {
		field := fmt.Sprintf("appointments[%d]", i)
		if in.Start.IsZero() || in.End.IsZero() {
			vErr.add(field+".start", "start and end are required")
			continue
		}
		if !in.End.After(in.Start) {
			vErr.add(field+".end", "end must be after start")
		}
		if in.Repeating == nil {
			continue
		}
		rep := in.Repeating
		if rep.Type < recurrence.TypeDaily || rep.Type > recurrence.TypeYearly {
			vErr.add(field+".repeating.type", "unsupported repeating type")
		}
		if rep.Interval < 0 {
			vErr.add(field+".repeating.interval", "interval must not be negative")
		}
		if rep.Number < 0 {
			vErr.add(field+".repeating.number", "number must not be negative")
		}
		if rep.Number > 0 && rep.Until != nil {
			vErr.add(field+".repeating.until", "number and until are mutually exclusive")
		}
		if rep.Until != nil && !rep.Until.After(in.Start) {
			vErr.add(field+".repeating.until", "until must be after start")
		}
	}

	for i, alloc := range input.Allocatables {
		if alloc.Type != entity.TypeAllocatable {
			vErr.add(fmt.Sprintf("allocatables[%d]", i), "must reference an allocatable")
		}
	}
	for alloc, indexes := range input.Restrictions {
		field := "restrictions." + alloc.String()
		if !slices.Contains(input.Allocatables, alloc) {
			vErr.add(field, "allocatable is not part of the reservation")
			continue
		}
		for _, idx := range indexes {
			if idx < 0 || idx >= len(input.Appointments) {
				vErr.add(field, fmt.Sprintf("appointment index %d is out of range", idx))
				break
			}
		}
	}

	return vErr
}

// Conflicts returns the allocation conflicts of a stored reservation.
// Results are cached until the next commit.
func (s *ReservationService) Conflicts(ctx context.Context, id entity.ID) ([]ConflictWarning, error) {
	if s == nil {
		return nil, fmt.Errorf("ReservationService is nil")
	}
	if id.Type != entity.TypeReservation {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var (
		warnings []ConflictWarning
		key      string
		cached   bool
	)
	err := s.service.View(func(c *storage.LocalCache) error {
		key = warningCacheKey(id, s.service.version)
		if warnings, cached = s.warnings.Get(key); cached {
			return nil
		}
		e, ok := c.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		warnings = s.detect(c, e.(*entity.Reservation))
		return nil
	})
	if err != nil || cached {
		return warnings, err
	}

	s.warnings.Store(key, warnings)
	s.service.metrics.ObserveConflicts(len(warnings))
	if len(warnings) > 0 {
		s.loggerWith(ctx, "Conflicts", "reservation_id", id.String()).
			WarnContext(ctx, "reservation has conflicts", "conflict_count", len(warnings))
	}
	return warnings, nil
}

func (s *ReservationService) detect(c *storage.LocalCache, res *entity.Reservation) []ConflictWarning {
	if len(res.Appointments()) == 0 || len(res.Allocatables()) == 0 {
		return nil
	}
	window := scheduler.Window{Start: res.FirstDate()}
	if end := res.MaxEnd(); end != nil {
		window.End = *end
	} else {
		window.End = window.Start.Add(s.horizon)
	}

	existing := c.Reservations(entity.ID{}, window.Start, window.End)
	conflicts := scheduler.DetectConflicts(res, existing, c, window)
	if len(conflicts) == 0 {
		return nil
	}
	warnings := make([]ConflictWarning, 0, len(conflicts))
	for _, conflict := range conflicts {
		w := ConflictWarning{
			Allocatable:     conflict.Allocatable,
			Reservation:     res.ID(),
			Appointment:     conflict.Appointment,
			With:            conflict.Reservation,
			WithAppointment: conflict.OtherAppointment,
			Start:           conflict.Start,
			End:             conflict.End,
		}
		if e, ok := c.Get(conflict.Allocatable); ok {
			w.AllocatableName = e.(*entity.Allocatable).Name()
		}
		warnings = append(warnings, w)
	}
	return warnings
}

// ListAppointments returns the blocks of the appointments in the requested
// window ordered by start. Exception dates are left out.
func (s *ReservationService) ListAppointments(ctx context.Context, params ListAppointmentsParams) ([]entity.Block, error) {
	if s == nil {
		return nil, fmt.Errorf("ReservationService is nil")
	}

	start, end, err := resolveListWindow(params)
	if err != nil {
		return nil, err
	}

	var blocks []entity.Block
	_ = s.service.View(func(c *storage.LocalCache) error {
		apps := c.Appointments(params.OwnerID, start, end)
		for _, b := range entity.BlocksOf(apps, start, end) {
			if !b.Exception {
				blocks = append(blocks, b)
			}
		}
		return nil
	})

	s.loggerWith(ctx, "ListAppointments",
		"principal_id", params.Principal.UserID.String(),
		"period", string(params.Period),
	).DebugContext(ctx, "appointments listed", "block_count", len(blocks))
	return blocks, nil
}

// ListReservations returns the reservations with an appointment in the
// requested window.
func (s *ReservationService) ListReservations(ctx context.Context, params ListAppointmentsParams) ([]*entity.Reservation, error) {
	if s == nil {
		return nil, fmt.Errorf("ReservationService is nil")
	}
	start, end, err := resolveListWindow(params)
	if err != nil {
		return nil, err
	}
	var out []*entity.Reservation
	_ = s.service.View(func(c *storage.LocalCache) error {
		out = c.Reservations(params.OwnerID, start, end)
		return nil
	})
	return out, nil
}

func resolveListWindow(params ListAppointmentsParams) (time.Time, time.Time, error) {
	start, end := params.Start, params.End
	if params.Period != ListPeriodNone {
		reference := params.Reference
		if reference.IsZero() {
			reference = time.Now()
		}
		loc := params.Location
		if loc == nil {
			loc = time.Local
		}
		start, end = computePeriodRange(params.Period, reference.In(loc))
		if start.IsZero() {
			return time.Time{}, time.Time{}, &ValidationError{FieldErrors: map[string]string{"period": "period must be one of day, week, month"}}
		}
	}
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, &ValidationError{FieldErrors: map[string]string{"start": "start and end are required"}}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, &ValidationError{FieldErrors: map[string]string{"end": "end must be after start"}}
	}
	return start, end, nil
}

// computePeriodRange returns the day, week or month containing reference in
// the location of reference. Weeks start on Monday.
func computePeriodRange(period ListPeriod, reference time.Time) (time.Time, time.Time) {
	switch period {
	case ListPeriodDay:
		start := startOfDay(reference)
		return start, start.AddDate(0, 0, 1)
	case ListPeriodWeek:
		start := startOfWeek(reference)
		return start, start.AddDate(0, 0, 7)
	case ListPeriodMonth:
		start := startOfMonth(reference)
		return start, start.AddDate(0, 1, 0)
	default:
		return time.Time{}, time.Time{}
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	start := startOfDay(t)
	// Monday == 1, Sunday == 0.
	offset := (int(start.Weekday()) + 6) % 7
	return start.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
