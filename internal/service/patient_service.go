package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicflow/clinicflow/internal/domain"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/pkg/metrics"
)

type PatientService struct {
	repo     patient.Repository
	auditSvc *AuditService
	metrics  *metrics.Collector
	log      *zap.Logger
}

func NewPatientService(repo patient.Repository, auditSvc *AuditService, m *metrics.Collector, log *zap.Logger) *PatientService {
	return &PatientService{
		repo:     repo,
		auditSvc: auditSvc,
		metrics:  m,
		log:      log,
	}
}

func (s *PatientService) RegisterPatient(ctx context.Context, actor *domain.Actor, cmd *patient.CreatePatientCommand, ip string) (*patient.Patient, error) {
	if err := validateCreatePatient(cmd); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByNationalID(ctx, cmd.NationalID)
	if err != nil {
		s.log.Error("failed to check national ID uniqueness", zap.Error(err))
		return nil, fmt.Errorf("checking uniqueness: %w", err)
	}
	if exists {
		return nil, patient.ErrPatientAlreadyExists
	}

	p := &patient.Patient{
		FirstName:   strings.TrimSpace(cmd.FirstName),
		LastName:    strings.TrimSpace(cmd.LastName),
		DateOfBirth: cmd.DateOfBirth,
		Gender:      cmd.Gender,
		NationalID:  strings.TrimSpace(cmd.NationalID),
		ContactInfo: patient.ContactInfo{
			Phone:   strings.TrimSpace(cmd.Phone),
			Email:   strings.ToLower(strings.TrimSpace(cmd.Email)),
			Address: cmd.Address,
			City:    cmd.City,
		},
		Allergies: cmd.Allergies,
		Notes:     cmd.Notes,
		Status:    patient.StatusActive,
		CreatedBy: actor.ID,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.log.Error("failed to create patient", zap.Error(err))
		return nil, fmt.Errorf("creating patient: %w", err)
	}

	s.metrics.PatientsCreatedTotal.Inc()
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.ID,
		Action:       domain.ActionCreate,
		ResourceType: "patient",
		ResourceID:   p.ID.String(),
		IPAddress:    ip,
	})

	s.log.Info("patient registered",
		zap.String("patient_id", p.ID.String()),
		zap.String("created_by", actor.ID.String()),
	)

	return p, nil
}

func (s *PatientService) GetPatient(ctx context.Context, actor *domain.Actor, id uuid.UUID, ip string) (*patient.Patient, error) {
	p, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.ID,
		Action:       domain.ActionRead,
		ResourceType: "patient",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})

	return p, nil
}

func (s *PatientService) DeactivatePatient(ctx context.Context, actor *domain.Actor, id uuid.UUID, ip string) error {
	if !actor.IsClinicHead() {
		return ErrForbidden
	}

	p, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}

	if err := p.Deactivate(); err != nil {
		return err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.ID,
		Action:       domain.ActionDelete,
		ResourceType: "patient",
		ResourceID:   id.String(),
		IPAddress:    ip,
	})

	return s.repo.SoftDelete(ctx, id)
}

func (s *PatientService) ListPatients(ctx context.Context, actor *domain.Actor, q *patient.ListPatientsQuery) (*patient.PagedPatients, error) {
	return s.repo.List(ctx, q)
}

func validateCreatePatient(cmd *patient.CreatePatientCommand) error {
	var errs []string

	if strings.TrimSpace(cmd.FirstName) == "" {
		errs = append(errs, "first_name is required")
	}
	if strings.TrimSpace(cmd.LastName) == "" {
		errs = append(errs, "last_name is required")
	}
	if cmd.DateOfBirth.IsZero() {
		errs = append(errs, "date_of_birth is required")
	}
	if cmd.DateOfBirth.After(time.Now()) {
		errs = append(errs, "date_of_birth cannot be in the future")
	}
	if !cmd.Gender.IsValid() {
		errs = append(errs, "gender is invalid")
	}
	if strings.TrimSpace(cmd.NationalID) == "" {
		errs = append(errs, "national_id is required")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
