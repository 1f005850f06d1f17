package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/pkg/database"
)

// ConflictGuard decides whether a requested slot is free. Every check runs
// inside the caller's transaction and acquires an exclusive row lock before
// looking, so the second of two racing requests for overlapping slots blocks
// until the first commits or rolls back, then re-evaluates.
type ConflictGuard struct {
	repo Repository
}

func NewConflictGuard(repo Repository) *ConflictGuard {
	return &ConflictGuard{repo: repo}
}

func (g *ConflictGuard) AssertNoDoctorConflict(ctx context.Context, h database.TxHandle, doctorID uuid.UUID, date time.Time, clock string, win BufferWindow) error {
	hit, err := g.repo.FindDoctorConflict(ctx, h, doctorID, date, clock, win, uuid.Nil)
	if err != nil {
		return fmt.Errorf("checking doctor conflicts: %w", err)
	}
	if hit != nil {
		return fmt.Errorf("%w: doctor already has an appointment at %s", ErrSlotConflict, hit.Time)
	}
	return nil
}

func (g *ConflictGuard) AssertNoPatientConflict(ctx context.Context, h database.TxHandle, patientID uuid.UUID, date time.Time, clock string, win BufferWindow) error {
	hit, err := g.repo.FindPatientConflict(ctx, h, patientID, date, clock, win)
	if err != nil {
		return fmt.Errorf("checking patient conflicts: %w", err)
	}
	if hit != nil {
		return fmt.Errorf("%w: patient already has an appointment at %s", ErrSlotConflict, hit.Time)
	}
	return nil
}

// AssertNoConflictForUpdate is the doctor check with the appointment being
// updated excluded, so an appointment never conflicts with itself.
func (g *ConflictGuard) AssertNoConflictForUpdate(ctx context.Context, h database.TxHandle, excludeID, doctorID uuid.UUID, date time.Time, clock string, win BufferWindow) error {
	hit, err := g.repo.FindDoctorConflict(ctx, h, doctorID, date, clock, win, excludeID)
	if err != nil {
		return fmt.Errorf("checking doctor conflicts: %w", err)
	}
	if hit != nil {
		return fmt.Errorf("%w: doctor already has an appointment at %s", ErrSlotConflict, hit.Time)
	}
	return nil
}
