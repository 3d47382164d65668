package staff

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for staff management business logic.
type Service interface {
	Enroll(ctx context.Context, orgID uuid.UUID, req CreateStaffRequest) (*Staff, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (*Staff, error)
}
