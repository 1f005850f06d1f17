package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicflow/clinicflow/internal/domain/appointment"
	"github.com/clinicflow/clinicflow/pkg/metrics"
)

type EventType string

const (
	EventAppointmentCreated   EventType = "appointment.created"
	EventAppointmentUpdated   EventType = "appointment.updated"
	EventAppointmentCompleted EventType = "appointment.completed"
	EventAppointmentCancelled EventType = "appointment.cancelled"
	EventAppointmentDeleted   EventType = "appointment.deleted"
)

// AppointmentEvent carries an immutable snapshot of the appointment as it was
// committed. Sinks must not mutate it.
type AppointmentEvent struct {
	Type        EventType
	Appointment *appointment.Appointment
	ActorID     uuid.UUID
	Reason      string
	OccurredAt  time.Time
}

// EventSink receives committed appointment events. Deliveries happen on the
// publisher's worker goroutine; slow sinks delay later events, not commits.
type EventSink interface {
	Notify(ev AppointmentEvent)
}

// EventService fans committed appointment events out to sinks asynchronously,
// strictly after the transaction that produced them has committed.
type EventService struct {
	sinks   []EventSink
	log     *zap.Logger
	metrics *metrics.Collector
	events  chan AppointmentEvent
	done    chan struct{}
	stop    sync.Once
}

const eventBufferSize = 4096

func NewEventService(m *metrics.Collector, log *zap.Logger, sinks ...EventSink) *EventService {
	svc := &EventService{
		sinks:   sinks,
		log:     log,
		metrics: m,
		events:  make(chan AppointmentEvent, eventBufferSize),
		done:    make(chan struct{}),
	}
	go svc.worker()
	return svc
}

// Publish enqueues the event. Full buffers drop with a warning; events are
// best-effort notifications, never part of the transaction.
func (s *EventService) Publish(ev AppointmentEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event buffer full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("appointment_id", ev.Appointment.ID.String()),
		)
	}
}

// Shutdown drains the buffer and stops the worker. Safe to call more than once.
func (s *EventService) Shutdown() {
	s.stop.Do(func() { close(s.events) })
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		s.log.Warn("event service shutdown timed out; some events may be lost")
	}
}

func (s *EventService) worker() {
	defer close(s.done)
	for ev := range s.events {
		s.metrics.AppointmentsTotal.WithLabelValues(string(ev.Appointment.Status)).Inc()
		for _, sink := range s.sinks {
			sink.Notify(ev)
		}
	}
}

// LoggingSink writes every event to the structured log, the default sink when
// no external broker is configured.
type LoggingSink struct {
	Log *zap.Logger
}

func (s *LoggingSink) Notify(ev AppointmentEvent) {
	fields := []zap.Field{
		zap.String("type", string(ev.Type)),
		zap.String("appointment_id", ev.Appointment.ID.String()),
		zap.String("status", string(ev.Appointment.Status)),
		zap.String("actor_id", ev.ActorID.String()),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	s.Log.Info("appointment event", fields...)
}
