package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one line in an order's audit trail: a status transition, a
// reason-bearing action such as a void or refund, or a background task that
// failed after the order itself committed.
type Entry struct {
	ID        uuid.UUID  `json:"id"`
	OrgID     uuid.UUID  `json:"org_id"`
	OrderID   uuid.UUID  `json:"order_id"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"` // nil for system-originated entries
	Action    string     `json:"action"`
	Detail    string     `json:"detail,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
