package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clinicflow/clinicflow/internal/domain/appointment"
	"github.com/clinicflow/clinicflow/pkg/database"
)

type AppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

// conn returns the live transaction when a handle is passed, the pool otherwise.
func (r *AppointmentRepository) conn(h database.TxHandle) *gorm.DB {
	if h != nil && h.DB() != nil {
		return h.DB()
	}
	return r.db
}

func (r *AppointmentRepository) Create(ctx context.Context, h database.TxHandle, a *appointment.Appointment) error {
	return r.conn(h).WithContext(ctx).Create(a).Error
}

func (r *AppointmentRepository) GetByID(ctx context.Context, h database.TxHandle, id uuid.UUID) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := r.conn(h).WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appointment.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AppointmentRepository) Update(ctx context.Context, h database.TxHandle, a *appointment.Appointment) error {
	res := r.conn(h).WithContext(ctx).Model(&appointment.Appointment{}).
		Where("id = ?", a.ID).
		Select("*").Omit("id", "created_at", "created_by").
		Updates(a)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return appointment.ErrAppointmentNotFound
	}
	return nil
}

func (r *AppointmentRepository) Delete(ctx context.Context, h database.TxHandle, id uuid.UUID) error {
	res := r.conn(h).WithContext(ctx).Delete(&appointment.Appointment{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return appointment.ErrAppointmentNotFound
	}
	return nil
}

func (r *AppointmentRepository) FindDoctorConflict(ctx context.Context, h database.TxHandle, doctorID uuid.UUID, date time.Time, clock string, win appointment.BufferWindow, excludeID uuid.UUID) (*appointment.Appointment, error) {
	return r.findConflict(ctx, h, "doctor_id", doctorID, date, clock, win, excludeID)
}

func (r *AppointmentRepository) FindPatientConflict(ctx context.Context, h database.TxHandle, patientID uuid.UUID, date time.Time, clock string, win appointment.BufferWindow) (*appointment.Appointment, error) {
	return r.findConflict(ctx, h, "patient_id", patientID, date, clock, win, uuid.Nil)
}

// Both window conditions are strict: an appointment exactly BufferSeconds away
// shares the boundary and is not a conflict, mirroring HasConflict.
const conflictWindowCond = "(time > ? AND time < ?) OR abs(extract(epoch from (time - ?::time))) < ?"

// conflictQuery builds the locked window scan. The FOR UPDATE clause comes
// before the existence check so two transactions racing for overlapping slots
// serialize: the loser blocks until the winner commits, then sees the
// committed row.
func conflictQuery(db *gorm.DB, ownerCol string, ownerID uuid.UUID, date time.Time, clock string, win appointment.BufferWindow, excludeID uuid.UUID) *gorm.DB {
	q := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(ownerCol+" = ? AND date = ? AND status = ?", ownerID, date, appointment.StatusScheduled).
		Where(conflictWindowCond, win.Start, win.End, clock, appointment.BufferSeconds)
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	return q
}

func (r *AppointmentRepository) findConflict(ctx context.Context, h database.TxHandle, ownerCol string, ownerID uuid.UUID, date time.Time, clock string, win appointment.BufferWindow, excludeID uuid.UUID) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := conflictQuery(r.conn(h).WithContext(ctx), ownerCol, ownerID, date, clock, win, excludeID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AppointmentRepository) List(ctx context.Context, q *appointment.ListAppointmentsQuery) (*appointment.PagedAppointments, error) {
	db := r.db.WithContext(ctx).Model(&appointment.Appointment{})

	if q.PatientID != nil {
		db = db.Where("patient_id = ?", *q.PatientID)
	}
	if q.DoctorID != nil {
		db = db.Where("doctor_id = ?", *q.DoctorID)
	}
	if q.Status != nil {
		db = db.Where("status = ?", *q.Status)
	}
	if q.DateFrom != nil {
		db = db.Where("date >= ?", *q.DateFrom)
	}
	if q.DateTo != nil {
		db = db.Where("date <= ?", *q.DateTo)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	page, size := normalizePage(q.Page, q.PageSize)
	var items []*appointment.Appointment
	err := db.Order("date, time").
		Offset((page - 1) * size).
		Limit(size).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &appointment.PagedAppointments{
		Appointments: items,
		TotalCount:   total,
		Page:         page,
		PageSize:     size,
		TotalPages:   totalPages(total, size),
	}, nil
}
