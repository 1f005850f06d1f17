package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicflow/clinicflow/internal/domain"
	"github.com/clinicflow/clinicflow/internal/domain/appointment"
	"github.com/clinicflow/clinicflow/internal/domain/clinicalrecord"
)

// ClinicalRecordService creates and reads visit documentation. Records are
// append-only; creating one pins the referenced appointment against deletion.
type ClinicalRecordService struct {
	repo            clinicalrecord.Repository
	appointmentRepo appointment.Repository
	auditSvc        *AuditService
	log             *zap.Logger
}

func NewClinicalRecordService(repo clinicalrecord.Repository, appointmentRepo appointment.Repository, auditSvc *AuditService, log *zap.Logger) *ClinicalRecordService {
	return &ClinicalRecordService{
		repo:            repo,
		appointmentRepo: appointmentRepo,
		auditSvc:        auditSvc,
		log:             log,
	}
}

func (s *ClinicalRecordService) CreateRecord(ctx context.Context, actor *domain.Actor, cmd *clinicalrecord.CreateRecordCommand, ip string) (*clinicalrecord.Record, error) {
	if !actor.IsDoctor() && !actor.IsClinicHead() {
		return nil, ErrForbidden
	}
	if !cmd.Type.IsValid() {
		return nil, clinicalrecord.ErrInvalidRecordType
	}

	a, err := s.appointmentRepo.GetByID(ctx, nil, cmd.AppointmentID)
	if err != nil {
		return nil, err
	}
	if err := appointment.AuthorizeView(actor, a); err != nil {
		return nil, err
	}

	rec := &clinicalrecord.Record{
		PatientID:     a.PatientID,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		Type:          cmd.Type,
		SOAPNote:      cmd.SOAPNote,
		Diagnoses:     cmd.Diagnoses,
		Notes:         cmd.Notes,
		CreatedBy:     actor.ID,
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		s.log.Error("failed to create clinical record", zap.Error(err))
		return nil, fmt.Errorf("creating clinical record: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.ID,
		Action:       domain.ActionCreate,
		ResourceType: "clinical_record",
		ResourceID:   rec.ID.String(),
		IPAddress:    ip,
	})

	return rec, nil
}

func (s *ClinicalRecordService) GetRecord(ctx context.Context, actor *domain.Actor, id uuid.UUID, ip string) (*clinicalrecord.Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsDoctorOnly() && rec.DoctorID != actor.ID {
		return nil, ErrForbidden
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.ID,
		Action:       domain.ActionRead,
		ResourceType: "clinical_record",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})

	return rec, nil
}

func (s *ClinicalRecordService) ListRecords(ctx context.Context, actor *domain.Actor, q *clinicalrecord.ListRecordsQuery) (*clinicalrecord.PagedRecords, error) {
	if actor.IsDoctorOnly() {
		own := actor.ID
		q.DoctorID = &own
	}
	return s.repo.List(ctx, q)
}
