package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/pkg/database"
)

type Repository interface {
	Create(ctx context.Context, h database.TxHandle, a *Appointment) error

	// GetByID retrieves an appointment. A nil handle reads from the pool;
	// inside a use case the live transaction handle is passed. Returns
	// ErrAppointmentNotFound if absent.
	GetByID(ctx context.Context, h database.TxHandle, id uuid.UUID) (*Appointment, error)

	// Update persists a full replacement value; callers mutate a Clone of the
	// loaded snapshot, never the snapshot itself.
	Update(ctx context.Context, h database.TxHandle, a *Appointment) error

	Delete(ctx context.Context, h database.TxHandle, id uuid.UUID) error

	// FindDoctorConflict looks for a scheduled appointment of the doctor on
	// the exact date whose time falls strictly inside the buffer window or
	// strictly closer than BufferSeconds to clock; a slot exactly on the
	// boundary is free. The matching rows are locked FOR UPDATE before the
	// check, so racing transactions serialize on the same slots. A non-nil
	// excludeID exempts the appointment being updated. Returns nil when the
	// slot is free.
	FindDoctorConflict(ctx context.Context, h database.TxHandle, doctorID uuid.UUID, date time.Time, clock string, win BufferWindow, excludeID uuid.UUID) (*Appointment, error)

	// FindPatientConflict is the patient-side counterpart, so one patient
	// cannot hold overlapping bookings with two doctors.
	FindPatientConflict(ctx context.Context, h database.TxHandle, patientID uuid.UUID, date time.Time, clock string, win BufferWindow) (*Appointment, error)

	List(ctx context.Context, q *ListAppointmentsQuery) (*PagedAppointments, error)
}
