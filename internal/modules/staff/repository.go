package staff

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines data access for staff accounts.
type Repository interface {
	Create(ctx context.Context, st *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
}
