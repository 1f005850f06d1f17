package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicflow/clinicflow/internal/config"
	"github.com/clinicflow/clinicflow/internal/domain"
	"github.com/clinicflow/clinicflow/internal/domain/appointment"
	"github.com/clinicflow/clinicflow/internal/domain/clinicalrecord"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/pkg/database"
)

// AppointmentService owns the scheduling use cases. Every mutation runs as one
// transaction: load, authorize, validate, check conflicts under lock, write.
// Contention errors retry the whole transaction with a fresh handle; audit
// entries and domain events go out only after commit.
type AppointmentService struct {
	repo        appointment.Repository
	patientRepo patient.Repository
	userRepo    domain.UserRepository
	recordRepo  clinicalrecord.Repository
	guard       *appointment.ConflictGuard
	handles     database.HandleSource
	auditSvc    *AuditService
	events      *EventService
	cfg         config.SchedulingConfig
	log         *zap.Logger
}

func NewAppointmentService(
	repo appointment.Repository,
	patientRepo patient.Repository,
	userRepo domain.UserRepository,
	recordRepo clinicalrecord.Repository,
	handles database.HandleSource,
	auditSvc *AuditService,
	events *EventService,
	cfg config.SchedulingConfig,
	log *zap.Logger,
) *AppointmentService {
	return &AppointmentService{
		repo:        repo,
		patientRepo: patientRepo,
		userRepo:    userRepo,
		recordRepo:  recordRepo,
		guard:       appointment.NewConflictGuard(repo),
		handles:     handles,
		auditSvc:    auditSvc,
		events:      events,
		cfg:         cfg,
		log:         log,
	}
}

func (s *AppointmentService) ScheduleAppointment(ctx context.Context, actor *domain.Actor, cmd *appointment.CreateAppointmentCommand, ip string) (*appointment.Appointment, error) {
	if err := appointment.AuthorizeCreate(actor); err != nil {
		return nil, err
	}

	status := cmd.Status
	if status == "" {
		status = appointment.StatusScheduled
	}
	if !status.IsValid() {
		return nil, appointment.ErrInvalidStatus
	}
	if len(cmd.Complaint) > 1000 {
		return nil, appointment.ErrComplaintTooLong
	}
	if err := validateSlot(cmd.Date, cmd.Time); err != nil {
		return nil, err
	}
	win, err := appointment.ComputeBufferWindow(cmd.Time, s.cfg.BufferMinutes)
	if err != nil {
		return nil, err
	}

	a, err := database.RunWithRetry(ctx, s.handles, s.log, "schedule_appointment", s.cfg.MaxTxAttempts,
		func(h database.TxHandle) (*appointment.Appointment, error) {
			p, err := s.patientRepo.GetByID(ctx, h, cmd.PatientID)
			if err != nil {
				return nil, err
			}
			if !p.IsActive() {
				return nil, patient.ErrPatientNotFound
			}
			if _, err := s.userRepo.GetDoctorByID(ctx, h, cmd.DoctorID); err != nil {
				return nil, err
			}

			if err := s.guard.AssertNoDoctorConflict(ctx, h, cmd.DoctorID, cmd.Date, cmd.Time, win); err != nil {
				return nil, err
			}
			if err := s.guard.AssertNoPatientConflict(ctx, h, cmd.PatientID, cmd.Date, cmd.Time, win); err != nil {
				return nil, err
			}

			a := &appointment.Appointment{
				PatientID: cmd.PatientID,
				DoctorID:  cmd.DoctorID,
				Date:      dateOnly(cmd.Date),
				Time:      cmd.Time,
				Status:    status,
				Complaint: cmd.Complaint,
				CreatedBy: actor.ID,
			}
			if err := s.repo.Create(ctx, h, a); err != nil {
				return nil, fmt.Errorf("creating appointment: %w", err)
			}
			return a, nil
		})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, actor, a, EventAppointmentCreated, domain.ActionCreate, "", "", ip)
	return a, nil
}

func (s *AppointmentService) GetAppointment(ctx context.Context, actor *domain.Actor, id uuid.UUID, ip string) (*appointment.Appointment, error) {
	a, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if err := appointment.AuthorizeView(actor, a); err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: actor.ID, Action: domain.ActionRead,
		ResourceType: "appointment", ResourceID: id.String(), IPAddress: ip,
	})
	return a, nil
}

// UpdateAppointment reschedules or edits a non-terminal appointment. Changed
// date or time re-runs the full slot validation and the doctor conflict check
// with the appointment itself excluded.
func (s *AppointmentService) UpdateAppointment(ctx context.Context, actor *domain.Actor, id uuid.UUID, cmd *appointment.UpdateAppointmentCommand, ip string) (*appointment.Appointment, error) {
	if cmd.Status != nil && !cmd.Status.IsValid() {
		return nil, appointment.ErrInvalidStatus
	}
	if cmd.Complaint != nil && len(*cmd.Complaint) > 1000 {
		return nil, appointment.ErrComplaintTooLong
	}

	a, err := database.RunWithRetry(ctx, s.handles, s.log, "update_appointment", s.cfg.MaxTxAttempts,
		func(h database.TxHandle) (*appointment.Appointment, error) {
			cur, err := s.repo.GetByID(ctx, h, id)
			if err != nil {
				return nil, err
			}
			if err := appointment.AuthorizeView(actor, cur); err != nil {
				return nil, err
			}
			if err := appointment.AuthorizeUpdate(cur); err != nil {
				return nil, err
			}

			next := cur.Clone()
			if cmd.Date != nil {
				next.Date = dateOnly(*cmd.Date)
			}
			if cmd.Time != nil {
				next.Time = *cmd.Time
			}
			if cmd.Status != nil {
				next.Status = *cmd.Status
			}
			if cmd.Complaint != nil {
				next.Complaint = *cmd.Complaint
			}

			slotChanged := cmd.Date != nil || cmd.Time != nil
			if slotChanged {
				if err := validateSlot(next.Date, next.Time); err != nil {
					return nil, err
				}
				win, err := appointment.ComputeBufferWindow(next.Time, s.cfg.BufferMinutes)
				if err != nil {
					return nil, err
				}
				if err := s.guard.AssertNoConflictForUpdate(ctx, h, cur.ID, next.DoctorID, next.Date, next.Time, win); err != nil {
					return nil, err
				}
			}

			if err := s.repo.Update(ctx, h, next); err != nil {
				return nil, fmt.Errorf("updating appointment: %w", err)
			}
			return next, nil
		})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, actor, a, EventAppointmentUpdated, domain.ActionUpdate, "", "", ip)
	return a, nil
}

func (s *AppointmentService) CompleteAppointment(ctx context.Context, actor *domain.Actor, id uuid.UUID, ip string) (*appointment.Appointment, error) {
	a, err := database.RunWithRetry(ctx, s.handles, s.log, "complete_appointment", s.cfg.MaxTxAttempts,
		func(h database.TxHandle) (*appointment.Appointment, error) {
			cur, err := s.repo.GetByID(ctx, h, id)
			if err != nil {
				return nil, err
			}
			if err := appointment.AuthorizeComplete(actor, cur); err != nil {
				return nil, err
			}

			now := time.Now()
			next := cur.Clone()
			next.Status = appointment.StatusDone
			next.CompletedAt = &now

			if err := s.repo.Update(ctx, h, next); err != nil {
				return nil, fmt.Errorf("completing appointment: %w", err)
			}
			return next, nil
		})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, actor, a, EventAppointmentCompleted, domain.ActionUpdate, `{"status":"done"}`, "", ip)
	return a, nil
}

func (s *AppointmentService) CancelAppointment(ctx context.Context, actor *domain.Actor, id uuid.UUID, cmd *appointment.CancelAppointmentCommand, ip string) (*appointment.Appointment, error) {
	a, err := database.RunWithRetry(ctx, s.handles, s.log, "cancel_appointment", s.cfg.MaxTxAttempts,
		func(h database.TxHandle) (*appointment.Appointment, error) {
			cur, err := s.repo.GetByID(ctx, h, id)
			if err != nil {
				return nil, err
			}
			if err := appointment.AuthorizeCancel(actor, cur, time.Now(), s.cfg.CancelCutoff); err != nil {
				return nil, err
			}

			now := time.Now()
			actorID := actor.ID
			next := cur.Clone()
			next.Status = appointment.StatusCancelled
			next.CancelledAt = &now
			next.CancellationReason = cmd.Reason
			next.CancelledBy = &actorID

			if err := s.repo.Update(ctx, h, next); err != nil {
				return nil, fmt.Errorf("cancelling appointment: %w", err)
			}
			return next, nil
		})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, actor, a, EventAppointmentCancelled, domain.ActionUpdate, fmt.Sprintf(`{"status":"cancelled","reason":%q}`, cmd.Reason), cmd.Reason, ip)
	return a, nil
}

// DeleteAppointment removes an appointment outright. Appointments referenced
// by a clinical record are pinned and refuse deletion.
func (s *AppointmentService) DeleteAppointment(ctx context.Context, actor *domain.Actor, id uuid.UUID, ip string) error {
	a, err := database.RunWithRetry(ctx, s.handles, s.log, "delete_appointment", s.cfg.MaxTxAttempts,
		func(h database.TxHandle) (*appointment.Appointment, error) {
			cur, err := s.repo.GetByID(ctx, h, id)
			if err != nil {
				return nil, err
			}
			if err := appointment.AuthorizeView(actor, cur); err != nil {
				return nil, err
			}

			pinned, err := s.recordRepo.ExistsByAppointment(ctx, h, id)
			if err != nil {
				return nil, fmt.Errorf("checking clinical records: %w", err)
			}
			if pinned {
				return nil, appointment.ErrHasClinicalRecord
			}

			if err := s.repo.Delete(ctx, h, id); err != nil {
				return nil, fmt.Errorf("deleting appointment: %w", err)
			}
			return cur, nil
		})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, actor, a, EventAppointmentDeleted, domain.ActionDelete, "", "", ip)
	return nil
}

func (s *AppointmentService) ListAppointments(ctx context.Context, actor *domain.Actor, q *appointment.ListAppointmentsQuery) (*appointment.PagedAppointments, error) {
	// Doctors without clinic-head privileges only see their own schedule.
	if actor.IsDoctorOnly() {
		own := actor.ID
		q.DoctorID = &own
	}
	return s.repo.List(ctx, q)
}

func (s *AppointmentService) afterCommit(ctx context.Context, actor *domain.Actor, a *appointment.Appointment, ev EventType, action domain.AuditAction, changes, reason, ip string) {
	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.ID,
		Action:       action,
		ResourceType: "appointment",
		ResourceID:   a.ID.String(),
		IPAddress:    ip,
		Changes:      changes,
	})
	s.events.Publish(AppointmentEvent{
		Type:        ev,
		Appointment: a,
		ActorID:     actor.ID,
		Reason:      reason,
		OccurredAt:  time.Now(),
	})
}

// validateSlot runs the pure time policy for a requested date and clock.
func validateSlot(date time.Time, clock string) error {
	if err := appointment.AssertNotPastDate(date); err != nil {
		return err
	}
	return appointment.AssertWithinWorkingHours(clock)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
