package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clinicflow/clinicflow/internal/config"
	"github.com/clinicflow/clinicflow/internal/domain"
	"github.com/clinicflow/clinicflow/internal/domain/appointment"
	"github.com/clinicflow/clinicflow/internal/domain/clinicalrecord"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/pkg/database"
	"github.com/clinicflow/clinicflow/pkg/metrics"
)

// Prometheus collectors register globally, so the whole package shares one.
var testMetrics = metrics.NewCollector("clinicflow_test")

type memTxHandle struct{}

func (memTxHandle) Begin(context.Context) error { return nil }
func (memTxHandle) Commit() error               { return nil }
func (memTxHandle) Rollback() error             { return nil }
func (memTxHandle) Release()                    {}
func (memTxHandle) DB() *gorm.DB                { return nil }

type memHandleSource struct{}

func (memHandleSource) NewHandle() database.TxHandle { return memTxHandle{} }

type memAppointmentRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*appointment.Appointment
}

func newMemAppointmentRepo() *memAppointmentRepo {
	return &memAppointmentRepo{items: make(map[uuid.UUID]*appointment.Appointment)}
}

func (r *memAppointmentRepo) Create(ctx context.Context, h database.TxHandle, a *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.items[a.ID] = a.Clone()
	return nil
}

func (r *memAppointmentRepo) GetByID(ctx context.Context, h database.TxHandle, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return a.Clone(), nil
}

func (r *memAppointmentRepo) Update(ctx context.Context, h database.TxHandle, a *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ID]; !ok {
		return appointment.ErrAppointmentNotFound
	}
	r.items[a.ID] = a.Clone()
	return nil
}

func (r *memAppointmentRepo) Delete(ctx context.Context, h database.TxHandle, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return appointment.ErrAppointmentNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memAppointmentRepo) FindDoctorConflict(ctx context.Context, h database.TxHandle, doctorID uuid.UUID, date time.Time, clock string, win appointment.BufferWindow, excludeID uuid.UUID) (*appointment.Appointment, error) {
	return r.findConflict(func(a *appointment.Appointment) bool { return a.DoctorID == doctorID }, date, clock, excludeID)
}

func (r *memAppointmentRepo) FindPatientConflict(ctx context.Context, h database.TxHandle, patientID uuid.UUID, date time.Time, clock string, win appointment.BufferWindow) (*appointment.Appointment, error) {
	return r.findConflict(func(a *appointment.Appointment) bool { return a.PatientID == patientID }, date, clock, uuid.Nil)
}

func (r *memAppointmentRepo) findConflict(owned func(*appointment.Appointment) bool, date time.Time, clock string, excludeID uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if !owned(a) || a.ID == excludeID || a.Status != appointment.StatusScheduled {
			continue
		}
		if !sameDay(a.Date, date) {
			continue
		}
		hit, err := appointment.HasConflict(a.Time, clock, appointment.DefaultBufferMinutes)
		if err != nil {
			return nil, err
		}
		if hit {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (r *memAppointmentRepo) List(ctx context.Context, q *appointment.ListAppointmentsQuery) (*appointment.PagedAppointments, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := &appointment.PagedAppointments{Page: 1, PageSize: len(r.items)}
	for _, a := range r.items {
		if q.DoctorID != nil && a.DoctorID != *q.DoctorID {
			continue
		}
		out.Appointments = append(out.Appointments, a.Clone())
	}
	out.TotalCount = int64(len(out.Appointments))
	return out, nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

type memPatientRepo struct {
	patients map[uuid.UUID]*patient.Patient
}

func (r *memPatientRepo) Create(ctx context.Context, p *patient.Patient) error {
	r.patients[p.ID] = p
	return nil
}

func (r *memPatientRepo) GetByID(ctx context.Context, h database.TxHandle, id uuid.UUID) (*patient.Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	return p, nil
}

func (r *memPatientRepo) SoftDelete(ctx context.Context, id uuid.UUID) error { return nil }

func (r *memPatientRepo) List(ctx context.Context, q *patient.ListPatientsQuery) (*patient.PagedPatients, error) {
	return &patient.PagedPatients{}, nil
}

func (r *memPatientRepo) ExistsByNationalID(ctx context.Context, nationalID string) (bool, error) {
	return false, nil
}

type memUserRepo struct {
	users map[uuid.UUID]*domain.User
}

func (r *memUserRepo) Create(ctx context.Context, u *domain.User) error { return nil }

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return nil, domain.ErrUserNotFound
}

func (r *memUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func (r *memUserRepo) GetDoctorByID(ctx context.Context, h database.TxHandle, id uuid.UUID) (*domain.User, error) {
	u, ok := r.users[id]
	if !ok || !u.HasRole(domain.RoleDoctor) {
		return nil, domain.ErrDoctorNotFound
	}
	return u, nil
}

func (r *memUserRepo) UpdateLoginAttempt(ctx context.Context, id uuid.UUID, success bool) error {
	return nil
}

func (r *memUserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return nil
}

type memRecordRepo struct {
	byAppointment map[uuid.UUID]bool
}

func (r *memRecordRepo) Create(ctx context.Context, rec *clinicalrecord.Record) error {
	r.byAppointment[rec.AppointmentID] = true
	return nil
}

func (r *memRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*clinicalrecord.Record, error) {
	return nil, clinicalrecord.ErrRecordNotFound
}

func (r *memRecordRepo) List(ctx context.Context, q *clinicalrecord.ListRecordsQuery) (*clinicalrecord.PagedRecords, error) {
	return &clinicalrecord.PagedRecords{}, nil
}

func (r *memRecordRepo) ExistsByAppointment(ctx context.Context, h database.TxHandle, appointmentID uuid.UUID) (bool, error) {
	return r.byAppointment[appointmentID], nil
}

type noopAuditRepo struct{}

func (noopAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error { return nil }

// captureSink records delivered events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []AppointmentEvent
}

func (s *captureSink) Notify(ev AppointmentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) byType(t EventType) []AppointmentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AppointmentEvent
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	svc      *AppointmentService
	appts    *memAppointmentRepo
	records  *memRecordRepo
	events   *EventService
	sink     *captureSink
	patient  *patient.Patient
	doctor   *domain.User
	doctorID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()

	patientID := uuid.New()
	doctorID := uuid.New()

	patients := &memPatientRepo{patients: map[uuid.UUID]*patient.Patient{
		patientID: {ID: patientID, FirstName: "Ada", LastName: "Osei", Status: patient.StatusActive},
	}}
	users := &memUserRepo{users: map[uuid.UUID]*domain.User{
		doctorID: {ID: doctorID, Roles: []domain.Role{domain.RoleDoctor}, IsActive: true},
	}}
	appts := newMemAppointmentRepo()
	records := &memRecordRepo{byAppointment: make(map[uuid.UUID]bool)}

	auditSvc := NewAuditService(noopAuditRepo{}, testMetrics, log)
	t.Cleanup(auditSvc.Shutdown)
	sink := &captureSink{}
	eventSvc := NewEventService(testMetrics, log, sink)
	t.Cleanup(eventSvc.Shutdown)

	cfg := config.SchedulingConfig{
		BufferMinutes: 30,
		CancelCutoff:  24 * time.Hour,
		MaxTxAttempts: 3,
	}

	svc := NewAppointmentService(appts, patients, users, records, memHandleSource{}, auditSvc, eventSvc, cfg, log)

	return &testEnv{
		svc:      svc,
		appts:    appts,
		records:  records,
		events:   eventSvc,
		sink:     sink,
		patient:  patients.patients[patientID],
		doctor:   users.users[doctorID],
		doctorID: doctorID,
	}
}

func futureDate() time.Time {
	d := time.Now().AddDate(0, 0, 7)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func (e *testEnv) schedule(t *testing.T, actor *domain.Actor, clock string) (*appointment.Appointment, error) {
	t.Helper()
	return e.svc.ScheduleAppointment(context.Background(), actor, &appointment.CreateAppointmentCommand{
		PatientID: e.patient.ID,
		DoctorID:  e.doctorID,
		Date:      futureDate(),
		Time:      clock,
	}, "127.0.0.1")
}

func TestScheduleAppointment(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.NewActor(env.doctorID, []domain.Role{domain.RoleDoctor})

	a, err := env.schedule(t, actor, "10:00:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != appointment.StatusScheduled {
		t.Errorf("status = %s, want scheduled", a.Status)
	}
	if _, err := env.appts.GetByID(context.Background(), nil, a.ID); err != nil {
		t.Errorf("appointment not persisted: %v", err)
	}
}

func TestScheduleAppointmentValidation(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.NewActor(env.doctorID, []domain.Role{domain.RoleDoctor})

	t.Run("staff may not book", func(t *testing.T) {
		staff := domain.NewActor(uuid.New(), []domain.Role{domain.RoleStaff})
		if _, err := env.schedule(t, staff, "10:00:00"); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("got %v, want ErrForbidden", err)
		}
	})

	t.Run("past date", func(t *testing.T) {
		_, err := env.svc.ScheduleAppointment(context.Background(), actor, &appointment.CreateAppointmentCommand{
			PatientID: env.patient.ID, DoctorID: env.doctorID,
			Date: time.Now().AddDate(0, 0, -1), Time: "10:00:00",
		}, "")
		if !errors.Is(err, appointment.ErrPastDate) {
			t.Errorf("got %v, want ErrPastDate", err)
		}
	})

	t.Run("outside working hours", func(t *testing.T) {
		if _, err := env.schedule(t, actor, "07:00:00"); !errors.Is(err, appointment.ErrOutsideWorkingHours) {
			t.Errorf("got %v, want ErrOutsideWorkingHours", err)
		}
	})

	t.Run("malformed time", func(t *testing.T) {
		if _, err := env.schedule(t, actor, "9:00"); !errors.Is(err, appointment.ErrMalformedTime) {
			t.Errorf("got %v, want ErrMalformedTime", err)
		}
	})

	t.Run("unknown patient", func(t *testing.T) {
		_, err := env.svc.ScheduleAppointment(context.Background(), actor, &appointment.CreateAppointmentCommand{
			PatientID: uuid.New(), DoctorID: env.doctorID,
			Date: futureDate(), Time: "10:00:00",
		}, "")
		if !errors.Is(err, patient.ErrPatientNotFound) {
			t.Errorf("got %v, want ErrPatientNotFound", err)
		}
	})

	t.Run("unknown doctor", func(t *testing.T) {
		_, err := env.svc.ScheduleAppointment(context.Background(), actor, &appointment.CreateAppointmentCommand{
			PatientID: env.patient.ID, DoctorID: uuid.New(),
			Date: futureDate(), Time: "10:00:00",
		}, "")
		if !errors.Is(err, domain.ErrDoctorNotFound) {
			t.Errorf("got %v, want ErrDoctorNotFound", err)
		}
	})
}

func TestScheduleAppointmentConflicts(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.NewActor(env.doctorID, []domain.Role{domain.RoleDoctor})

	if _, err := env.schedule(t, actor, "10:00:00"); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	// 15 minutes later collides with the half-hour buffer.
	if _, err := env.schedule(t, actor, "10:15:00"); !errors.Is(err, appointment.ErrSlotConflict) {
		t.Fatalf("got %v, want ErrSlotConflict", err)
	}

	// Exactly 30 minutes apart is free.
	if _, err := env.schedule(t, actor, "10:30:00"); err != nil {
		t.Fatalf("boundary booking failed: %v", err)
	}
}

func TestCompleteThenCancel(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.NewActor(env.doctorID, []domain.Role{domain.RoleDoctor})

	a, err := env.schedule(t, actor, "10:00:00")
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	done, err := env.svc.CompleteAppointment(context.Background(), actor, a.ID, "")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if done.Status != appointment.StatusDone || done.CompletedAt == nil {
		t.Errorf("status = %s, completedAt = %v; want done with timestamp", done.Status, done.CompletedAt)
	}

	_, err = env.svc.CancelAppointment(context.Background(), actor, a.ID, &appointment.CancelAppointmentCommand{Reason: "no show"}, "")
	if !errors.Is(err, appointment.ErrAlreadyCompleted) {
		t.Errorf("cancel after complete: got %v, want ErrAlreadyCompleted", err)
	}

	// Completing twice is blocked too.
	if _, err := env.svc.CompleteAppointment(context.Background(), actor, a.ID, ""); !errors.Is(err, appointment.ErrCompleteNotScheduled) {
		t.Errorf("second complete: got %v, want ErrCompleteNotScheduled", err)
	}
}

func TestCancelCutoff(t *testing.T) {
	env := newTestEnv(t)
	doctor := domain.NewActor(env.doctorID, []domain.Role{domain.RoleDoctor})
	head := domain.NewActor(uuid.New(), []domain.Role{domain.RoleClinicHead})

	// Seed an appointment starting an hour from now, inside the 24h cutoff.
	soon := time.Now().Add(time.Hour)
	a := &appointment.Appointment{
		ID:        uuid.New(),
		PatientID: env.patient.ID,
		DoctorID:  env.doctorID,
		Date:      time.Date(soon.Year(), soon.Month(), soon.Day(), 0, 0, 0, 0, soon.Location()),
		Time:      soon.Format(appointment.ClockLayout),
		Status:    appointment.StatusScheduled,
	}
	if err := env.appts.Create(context.Background(), nil, a); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.CancelAppointment(context.Background(), doctor, a.ID, &appointment.CancelAppointmentCommand{Reason: "sick"}, "")
	if !errors.Is(err, appointment.ErrCancelCutoff) {
		t.Fatalf("doctor inside cutoff: got %v, want ErrCancelCutoff", err)
	}

	cancelled, err := env.svc.CancelAppointment(context.Background(), head, a.ID, &appointment.CancelAppointmentCommand{Reason: "sick"}, "")
	if err != nil {
		t.Fatalf("head inside cutoff: %v", err)
	}
	if cancelled.Status != appointment.StatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("status = %s; want cancelled with timestamp", cancelled.Status)
	}
	if cancelled.CancellationReason != "sick" {
		t.Errorf("reason = %q, want %q", cancelled.CancellationReason, "sick")
	}
}

func TestCancelledEventCarriesReason(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.NewActor(env.doctorID, []domain.Role{domain.RoleDoctor})

	a, err := env.schedule(t, actor, "10:00:00")
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	if _, err := env.svc.CancelAppointment(context.Background(), actor, a.ID, &appointment.CancelAppointmentCommand{Reason: "patient travelling"}, ""); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// Shutdown drains the worker so every published event has been delivered.
	env.events.Shutdown()

	cancelled := env.sink.byType(EventAppointmentCancelled)
	if len(cancelled) != 1 {
		t.Fatalf("got %d cancelled events, want 1", len(cancelled))
	}
	ev := cancelled[0]
	if ev.Reason != "patient travelling" {
		t.Errorf("reason = %q, want %q", ev.Reason, "patient travelling")
	}
	if ev.ActorID != actor.ID {
		t.Errorf("actor = %s, want %s", ev.ActorID, actor.ID)
	}
	if ev.Appointment.Status != appointment.StatusCancelled {
		t.Errorf("snapshot status = %s, want cancelled", ev.Appointment.Status)
	}

	// Events without a reason leave the field empty.
	created := env.sink.byType(EventAppointmentCreated)
	if len(created) != 1 {
		t.Fatalf("got %d created events, want 1", len(created))
	}
	if created[0].Reason != "" {
		t.Errorf("created event reason = %q, want empty", created[0].Reason)
	}
}

func TestUpdateAppointment(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.NewActor(env.doctorID, []domain.Role{domain.RoleDoctor})

	a, err := env.schedule(t, actor, "10:00:00")
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	// Rescheduling inside its own buffer must not self-conflict.
	newTime := "10:10:00"
	updated, err := env.svc.UpdateAppointment(context.Background(), actor, a.ID, &appointment.UpdateAppointmentCommand{Time: &newTime}, "")
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if updated.Time != newTime {
		t.Errorf("time = %s, want %s", updated.Time, newTime)
	}

	// Rescheduling onto another booking conflicts.
	if _, err := env.schedule(t, actor, "12:00:00"); err != nil {
		t.Fatalf("second booking failed: %v", err)
	}
	clash := "12:05:00"
	if _, err := env.svc.UpdateAppointment(context.Background(), actor, a.ID, &appointment.UpdateAppointmentCommand{Time: &clash}, ""); !errors.Is(err, appointment.ErrSlotConflict) {
		t.Errorf("got %v, want ErrSlotConflict", err)
	}

	// Terminal appointments refuse updates with distinct errors.
	if _, err := env.svc.CancelAppointment(context.Background(), actor, a.ID, &appointment.CancelAppointmentCommand{Reason: "moved"}, ""); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := env.svc.UpdateAppointment(context.Background(), actor, a.ID, &appointment.UpdateAppointmentCommand{Time: &newTime}, ""); !errors.Is(err, appointment.ErrUpdateCancelled) {
		t.Errorf("got %v, want ErrUpdateCancelled", err)
	}
}

func TestDeleteAppointment(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.NewActor(env.doctorID, []domain.Role{domain.RoleDoctor})

	a, err := env.schedule(t, actor, "10:00:00")
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	// A clinical record pins the appointment.
	env.records.byAppointment[a.ID] = true
	if err := env.svc.DeleteAppointment(context.Background(), actor, a.ID, ""); !errors.Is(err, appointment.ErrHasClinicalRecord) {
		t.Fatalf("got %v, want ErrHasClinicalRecord", err)
	}

	delete(env.records.byAppointment, a.ID)
	if err := env.svc.DeleteAppointment(context.Background(), actor, a.ID, ""); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := env.appts.GetByID(context.Background(), nil, a.ID); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Errorf("appointment still present after delete: %v", err)
	}
}

func TestListAppointmentsPinsDoctorScope(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.NewActor(env.doctorID, []domain.Role{domain.RoleDoctor})

	if _, err := env.schedule(t, actor, "10:00:00"); err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	other := domain.NewActor(uuid.New(), []domain.Role{domain.RoleDoctor})
	page, err := env.svc.ListAppointments(context.Background(), other, &appointment.ListAppointmentsQuery{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Appointments) != 0 {
		t.Errorf("foreign doctor sees %d appointments, want 0", len(page.Appointments))
	}

	page, err = env.svc.ListAppointments(context.Background(), actor, &appointment.ListAppointmentsQuery{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Appointments) != 1 {
		t.Errorf("own doctor sees %d appointments, want 1", len(page.Appointments))
	}
}
