package audit

import (
	"context"

	"github.com/google/uuid"
)

// Recorder is the write side of the audit trail. Services and the event
// dispatcher only append, so they depend on this rather than the full
// Repository.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Repository defines data access for audit entries.
type Repository interface {
	Recorder
	ListByOrder(ctx context.Context, orgID, orderID uuid.UUID) ([]*Entry, error)
}
