package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled            Status = "scheduled"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusDone                 Status = "done"
	StatusCancelled            Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusAwaitingConfirmation, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further scheduling mutation.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Appointment is the unit of transactional mutation. Patient and doctor are
// referenced by id only; their records are owned by their own services.
// Date carries the calendar day with the time of day stripped; Time is a
// zero-padded HH:MM:SS wall-clock string, the one bit-exact contract of the
// scheduling core.
type Appointment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	PatientID uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	DoctorID  uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;index"`

	Date   time.Time `gorm:"column:date;type:date;not null;index"`
	Time   string    `gorm:"column:time;type:time;not null"`
	Status Status    `gorm:"column:status;type:varchar(30);not null;default:'scheduled';index"`

	Complaint string `gorm:"column:complaint;type:varchar(1000)"`

	// Cancellation tracking
	CancelledAt        *time.Time `gorm:"column:cancelled_at"`
	CancellationReason string     `gorm:"column:cancellation_reason;type:text"`
	CancelledBy        *uuid.UUID `gorm:"column:cancelled_by;type:uuid"`

	CompletedAt *time.Time `gorm:"column:completed_at"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Appointment) TableName() string {
	return "clinical.appointments"
}

// StartsAt combines the calendar day and the wall-clock time into one instant,
// used for the cancellation cutoff. Time is validated on every write, so a
// malformed clock cannot reach here.
func (a *Appointment) StartsAt() time.Time {
	clock, err := ParseClock(a.Time)
	if err != nil {
		return a.Date
	}
	return time.Date(
		a.Date.Year(), a.Date.Month(), a.Date.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0,
		a.Date.Location(),
	)
}

// Clone returns a copy for mutate-then-persist flows, so the loaded snapshot
// stays untouched for event payloads and logging.
func (a *Appointment) Clone() *Appointment {
	cp := *a
	return &cp
}

type CreateAppointmentCommand struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      string
	Status    Status // empty defaults to StatusScheduled
	Complaint string
	CreatedBy uuid.UUID
}

type UpdateAppointmentCommand struct {
	Date      *time.Time
	Time      *string
	Status    *Status
	Complaint *string
}

type CancelAppointmentCommand struct {
	Reason string
}

type ListAppointmentsQuery struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

type PagedAppointments struct {
	Appointments []*Appointment
	TotalCount   int64
	Page         int
	PageSize     int
	TotalPages   int
}
