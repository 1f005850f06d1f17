package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/pkg/database"
)

type Repository interface {
	// Create persists a new patient. Returns ErrPatientAlreadyExists on duplicate NationalID.
	Create(ctx context.Context, p *Patient) error

	// GetByID retrieves a patient by primary key. A nil handle reads from the
	// pool; scheduling use cases pass their live transaction handle. Returns
	// ErrPatientNotFound if not found.
	GetByID(ctx context.Context, h database.TxHandle, id uuid.UUID) (*Patient, error)

	// SoftDelete marks the patient as deleted (retention requirement).
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// List returns a paginated, filtered list of patients.
	List(ctx context.Context, q *ListPatientsQuery) (*PagedPatients, error)

	// ExistsByNationalID checks for uniqueness without fetching the full record.
	ExistsByNationalID(ctx context.Context, nationalID string) (bool, error)
}
