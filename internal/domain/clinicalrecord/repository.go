package clinicalrecord

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/pkg/database"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	List(ctx context.Context, q *ListRecordsQuery) (*PagedRecords, error)

	// ExistsByAppointment reports whether any record references the
	// appointment. Runs inside the caller's transaction when a handle is
	// passed; appointment deletion is refused while this returns true.
	ExistsByAppointment(ctx context.Context, h database.TxHandle, appointmentID uuid.UUID) (bool, error)
}
