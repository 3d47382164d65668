package order

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines data access for orders. All reads and writes are
// org-scoped; an order outside the caller's organisation behaves as absent.
type Repository interface {
	// Create persists a new order and its items atomically, assigning the
	// branch's next order number inside the same transaction.
	Create(ctx context.Context, o *Order) error

	// GetByID retrieves an order with its items.
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Order, error)

	// GetByNumber retrieves an order by its human-readable number within a
	// branch.
	GetByNumber(ctx context.Context, orgID, branchID uuid.UUID, number string) (*Order, error)

	// ListByBranch returns a branch's orders, optionally filtered by status.
	ListByBranch(ctx context.Context, orgID, branchID uuid.UUID, status Status) ([]*Order, error)

	// UpdateStatus moves an order from one status to another with a
	// compare-and-write guard. It fails with a Conflict error when the row
	// is no longer in the expected source status.
	UpdateStatus(ctx context.Context, orgID, id uuid.UUID, from, to Status, voidReason string) error

	// ReplaceItems swaps the order's lines and totals in one transaction,
	// guarded on the order still being editable.
	ReplaceItems(ctx context.Context, o *Order) error

	// UpdateAmounts rewrites the monetary columns after a discount change,
	// guarded on the order not being terminal.
	UpdateAmounts(ctx context.Context, o *Order) error
}
