package appointment

import (
	"context"

	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

// Repository contains all persistence interactions needed by the service.
//
// InsertAppointment and SaveAppointment must refuse, atomically with the
// write, a slot-blocking record that overlaps another slot-blocking record of
// the same doctor and date. The refusal is reported as a *ConflictError.
type Repository interface {
	ListAppointments(ctx context.Context, f Filter) ([]Appointment, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)

	// Creation and updates; Insert assigns the canonical id and timestamps.
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	SaveAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error

	// No-show worker: scheduled or confirmed appointments dated on or before through.
	FindOpenThrough(ctx context.Context, through slot.Date) ([]Appointment, error)
	// MarkNoShow flips an appointment to no-show only while it is still
	// scheduled or confirmed; otherwise it returns ErrNotFound.
	MarkNoShow(ctx context.Context, id string) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
