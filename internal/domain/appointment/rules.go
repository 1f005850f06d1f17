package appointment

import (
	"time"

	"github.com/clinicflow/clinicflow/internal/domain"
)

// Transition rules for the appointment lifecycle:
//
//	scheduled → done       (complete)
//	scheduled → cancelled  (cancel; also legal from awaiting_confirmation)
//	scheduled → scheduled  (update in place: date/time/status/complaint)
//
// done and cancelled are terminal. Each rule combines the actor's roles, the
// current status, and, for cancellation, the time remaining until the slot.

// AuthorizeView enforces the read guard: a doctor without clinic-head
// privileges may only load their own appointments.
func AuthorizeView(actor *domain.Actor, a *Appointment) error {
	if actor.IsDoctorOnly() && a.DoctorID != actor.ID {
		return domain.ErrForbidden
	}
	return nil
}

// AuthorizeCreate requires a doctor-side actor: booking is done by doctors or
// the clinic head, never by staff directly.
func AuthorizeCreate(actor *domain.Actor) error {
	if !actor.IsDoctor() && !actor.IsClinicHead() {
		return domain.ErrForbidden
	}
	return nil
}

// AuthorizeComplete runs the view guard first, then the status check, then the
// role check: completion is legal only from scheduled, by the clinic head or
// the assigned doctor.
func AuthorizeComplete(actor *domain.Actor, a *Appointment) error {
	if err := AuthorizeView(actor, a); err != nil {
		return err
	}
	if a.Status != StatusScheduled {
		return ErrCompleteNotScheduled
	}
	if actor.IsClinicHead() {
		return nil
	}
	if actor.IsDoctor() && a.DoctorID == actor.ID {
		return nil
	}
	return domain.ErrForbidden
}

// AuthorizeCancel checks ownership strictly before status, and status before
// timing. Inside the cutoff only the clinic head may cancel, regardless of
// ownership.
func AuthorizeCancel(actor *domain.Actor, a *Appointment, now time.Time, cutoff time.Duration) error {
	if actor.IsDoctorOnly() && a.DoctorID != actor.ID {
		return domain.ErrForbidden
	}

	switch a.Status {
	case StatusDone:
		return ErrAlreadyCompleted
	case StatusCancelled:
		return ErrAlreadyCancelled
	}

	if a.StartsAt().Sub(now) < cutoff && !actor.IsClinicHead() {
		return ErrCancelCutoff
	}
	return nil
}

// AuthorizeUpdate blocks scheduling mutation of terminal appointments, with a
// distinct error per terminal status.
func AuthorizeUpdate(a *Appointment) error {
	switch a.Status {
	case StatusDone:
		return ErrUpdateCompleted
	case StatusCancelled:
		return ErrUpdateCancelled
	}
	return nil
}
