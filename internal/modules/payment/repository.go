package payment

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists payments. Every mutation also refreshes the order's
// payment_status projection inside the same transaction, so the stored
// column is always a pure function of the payment set.
type Repository interface {
	// Create re-checks the order's payable state and remaining due under a
	// row lock and inserts the payment as one atomic unit. FAILED rows skip
	// the due check: they anchor an idempotency key without reserving
	// money. A reused idempotency key surfaces as a Conflict.
	Create(ctx context.Context, p *Payment) error

	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Payment, error)

	// GetByKey finds the payment a previous attempt with this idempotency
	// key produced, whatever its outcome was.
	GetByKey(ctx context.Context, orgID uuid.UUID, key string) (*Payment, error)

	ListByOrder(ctx context.Context, orgID, orderID uuid.UUID) ([]*Payment, error)

	// Position aggregates one order's payment set together with the order
	// total.
	Position(ctx context.Context, orgID, orderID uuid.UUID) (*Position, error)

	// MarkCaptured settles an AUTHORIZED payment. Capturing an already
	// CAPTURED payment returns it unchanged.
	MarkCaptured(ctx context.Context, orgID, id uuid.UUID, capturedCents int64) (*Payment, error)

	// MarkVoided cancels a payment that has not captured money. Voiding a
	// VOIDED payment returns it unchanged.
	MarkVoided(ctx context.Context, orgID, id uuid.UUID, reason string) (*Payment, error)

	// ApplyRefund books one refund against a CAPTURED payment, flipping it
	// to REFUNDED once the captured amount is fully returned.
	ApplyRefund(ctx context.Context, orgID, id uuid.UUID, amountCents int64, reason, refundRef string) (*Payment, error)
}
