package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinicflow/clinicflow/internal/domain/clinicalrecord"
	"github.com/clinicflow/clinicflow/pkg/database"
)

type ClinicalRecordRepository struct {
	db *gorm.DB
}

func NewClinicalRecordRepository(db *gorm.DB) *ClinicalRecordRepository {
	return &ClinicalRecordRepository{db: db}
}

func (r *ClinicalRecordRepository) conn(h database.TxHandle) *gorm.DB {
	if h != nil && h.DB() != nil {
		return h.DB()
	}
	return r.db
}

func (r *ClinicalRecordRepository) Create(ctx context.Context, rec *clinicalrecord.Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *ClinicalRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*clinicalrecord.Record, error) {
	var rec clinicalrecord.Record
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, clinicalrecord.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ClinicalRecordRepository) ExistsByAppointment(ctx context.Context, h database.TxHandle, appointmentID uuid.UUID) (bool, error) {
	var count int64
	err := r.conn(h).WithContext(ctx).Model(&clinicalrecord.Record{}).
		Where("appointment_id = ?", appointmentID).
		Count(&count).Error
	return count > 0, err
}

func (r *ClinicalRecordRepository) List(ctx context.Context, q *clinicalrecord.ListRecordsQuery) (*clinicalrecord.PagedRecords, error) {
	db := r.db.WithContext(ctx).Model(&clinicalrecord.Record{})

	if q.PatientID != nil {
		db = db.Where("patient_id = ?", *q.PatientID)
	}
	if q.DoctorID != nil {
		db = db.Where("doctor_id = ?", *q.DoctorID)
	}
	if q.AppointmentID != nil {
		db = db.Where("appointment_id = ?", *q.AppointmentID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	page, size := normalizePage(q.Page, q.PageSize)
	var items []*clinicalrecord.Record
	err := db.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &clinicalrecord.PagedRecords{
		Records:    items,
		TotalCount: total,
		Page:       page,
		PageSize:   size,
		TotalPages: totalPages(total, size),
	}, nil
}
