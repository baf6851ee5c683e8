package application

import (
	"time"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/recurrence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  entity.ID
	IsAdmin bool
}

// PrincipalOf derives the principal of a stored user.
func PrincipalOf(u *entity.User) Principal {
	return Principal{UserID: u.ID(), IsAdmin: u.IsAdmin()}
}

// UserInput captures caller provided user fields.
type UserInput struct {
	Username string
	Name     string
	Email    string
	IsAdmin  bool
	Groups   []entity.ID
	// Password is hashed before it is stored. Empty leaves it unchanged.
	Password string
}

// CreateUserParams wraps the data required to create a user.
type CreateUserParams struct {
	Principal Principal
	Input     UserInput
}

// UpdateUserParams wraps the data required to update an existing user.
type UpdateUserParams struct {
	Principal Principal
	UserID    entity.ID
	Input     UserInput
}

// SetPasswordParams changes a password. Users changing their own password
// must present the current one; administrators may reset any password.
type SetPasswordParams struct {
	Principal   Principal
	UserID      entity.ID
	OldPassword string
	NewPassword string
}

// AllocatableInput captures the classification of a resource or person.
type AllocatableInput struct {
	// ElementKey selects the dynamic type.
	ElementKey        string
	Values            map[string]any
	HoldBackConflicts bool
}

// CreateAllocatableParams wraps the data required to create an allocatable.
type CreateAllocatableParams struct {
	Principal Principal
	Input     AllocatableInput
}

// UpdateAllocatableParams wraps the data required to update an allocatable.
type UpdateAllocatableParams struct {
	Principal     Principal
	AllocatableID entity.ID
	Input         AllocatableInput
}

// RepeatingInput describes a recurrence. At most one of Number and Until
// terminates the series.
type RepeatingInput struct {
	Type       recurrence.Type
	Interval   int
	Number     int
	Until      *time.Time
	Exceptions []time.Time
}

// AppointmentInput describes one appointment. A zero ID creates a new
// appointment; otherwise the appointment must belong to the reservation.
type AppointmentInput struct {
	ID        entity.ID
	Start     time.Time
	End       time.Time
	WholeDays bool
	Repeating *RepeatingInput
}

// ReservationInput captures caller provided reservation fields. Restrictions
// limit an allocatable to appointments, given as indexes into Appointments.
type ReservationInput struct {
	OwnerID      entity.ID
	ElementKey   string
	Values       map[string]any
	Appointments []AppointmentInput
	Allocatables []entity.ID
	Restrictions map[entity.ID][]int
}

// CreateReservationParams wraps the data required to create a reservation.
type CreateReservationParams struct {
	Principal Principal
	Input     ReservationInput
}

// UpdateReservationParams wraps the data required to update a reservation.
type UpdateReservationParams struct {
	Principal     Principal
	ReservationID entity.ID
	Input         ReservationInput
}

// ListPeriod identifies the range preset requested for appointment listings.
type ListPeriod string

const (
	ListPeriodNone  ListPeriod = ""
	ListPeriodDay   ListPeriod = "day"
	ListPeriodWeek  ListPeriod = "week"
	ListPeriodMonth ListPeriod = "month"
)

// ListAppointmentsParams selects blocks by window or by period preset. With
// a period, the window is the day, week or month containing Reference in
// Location. OwnerID limits the result to reservations of one user.
type ListAppointmentsParams struct {
	Principal Principal
	OwnerID   entity.ID
	Start     time.Time
	End       time.Time
	Period    ListPeriod
	Reference time.Time
	Location  *time.Location
}

// ConflictWarning describes an allocation conflict that should be surfaced
// to callers. Conflicts never block a commit. Reservation and Appointment
// belong to the checked reservation, With and WithAppointment to the one it
// collides with.
type ConflictWarning struct {
	Allocatable     entity.ID
	AllocatableName string
	Reservation     entity.ID
	Appointment     entity.ID
	With            entity.ID
	WithAppointment entity.ID
	Start           time.Time
	End             time.Time
}
