package appointment

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")

	// Conflict family: the requested transition or slot is not available.
	ErrSlotConflict         = errors.New("time slot is already booked")
	ErrAlreadyCompleted     = errors.New("appointment is already completed")
	ErrAlreadyCancelled     = errors.New("appointment is already cancelled")
	ErrCompleteNotScheduled = errors.New("only scheduled appointments can be completed")
	ErrUpdateCompleted      = errors.New("cannot update a completed appointment")
	ErrUpdateCancelled      = errors.New("cannot update a cancelled appointment")
	ErrHasClinicalRecord    = errors.New("appointment has an associated clinical record")

	// ErrCancelCutoff is a timing authorization failure, not a conflict: the
	// slot is too close and the actor lacks clinic-head privileges.
	ErrCancelCutoff = errors.New("appointments starting within 24 hours can only be cancelled by the clinic head")

	// Invalid input family.
	ErrPastDate            = errors.New("appointment date cannot be in the past")
	ErrOutsideWorkingHours = errors.New("appointment time must be between 08:00:00 and 16:30:00")
	ErrMalformedTime       = errors.New("time must be formatted HH:MM:SS")
	ErrInvalidStatus       = errors.New("invalid appointment status")
	ErrComplaintTooLong    = errors.New("complaint must not exceed 1000 characters")
)
