package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/pkg/database"
)

type PatientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(db *gorm.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

func (r *PatientRepository) conn(h database.TxHandle) *gorm.DB {
	if h != nil && h.DB() != nil {
		return h.DB()
	}
	return r.db
}

func (r *PatientRepository) Create(ctx context.Context, p *patient.Patient) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return patient.ErrPatientAlreadyExists
	}
	return err
}

func (r *PatientRepository) GetByID(ctx context.Context, h database.TxHandle, id uuid.UUID) (*patient.Patient, error) {
	var p patient.Patient
	err := r.conn(h).WithContext(ctx).First(&p, "id = ? AND deleted_at IS NULL", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, patient.ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PatientRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&patient.Patient{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"deleted_at": gorm.Expr("now()"),
			"status":     patient.StatusInactive,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return patient.ErrPatientNotFound
	}
	return nil
}

func (r *PatientRepository) ExistsByNationalID(ctx context.Context, nationalID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&patient.Patient{}).
		Where("national_id = ? AND deleted_at IS NULL", nationalID).
		Count(&count).Error
	return count > 0, err
}

func (r *PatientRepository) List(ctx context.Context, q *patient.ListPatientsQuery) (*patient.PagedPatients, error) {
	db := r.db.WithContext(ctx).Model(&patient.Patient{}).Where("deleted_at IS NULL")

	if q.Search != "" {
		like := "%" + q.Search + "%"
		db = db.Where("first_name ILIKE ? OR last_name ILIKE ?", like, like)
	}
	if q.Status != nil {
		db = db.Where("status = ?", *q.Status)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	page, size := normalizePage(q.Page, q.PageSize)
	var items []*patient.Patient
	err := db.Order("last_name, first_name").
		Offset((page - 1) * size).
		Limit(size).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &patient.PagedPatients{
		Patients:   items,
		TotalCount: total,
		Page:       page,
		PageSize:   size,
		TotalPages: totalPages(total, size),
	}, nil
}
