package collab

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tilla-pos/api/internal/events"
)

// The settlement core does not deplete stock, post to the general ledger or
// evaluate promotions itself. It hands that work across the interfaces in
// this package; the reference implementations enqueue it for the owning
// systems.

// StockDepleter consumes the ingredients of a closed order.
type StockDepleter interface {
	Deplete(ctx context.Context, orderID, branchID, staffID uuid.UUID) error
}

// LedgerPoster books a closed order's revenue into the general ledger.
type LedgerPoster interface {
	Post(ctx context.Context, orderID, branchID, staffID uuid.UUID) error
}

// LineItem is the promotion engine's view of one order line.
type LineItem struct {
	Name           string
	Station        string
	Quantity       int64
	UnitPriceCents int64
}

// EvalContext describes one order at promotion-evaluation time.
type EvalContext struct {
	BranchID   uuid.UUID
	Items      []LineItem
	At         time.Time
	CouponCode string
}

// DiscountEffect is one discount a promotion grants, in cents.
type DiscountEffect struct {
	Label       string
	AmountCents int64
}

// PromotionEngine turns an evaluation context into zero or more discounts.
type PromotionEngine interface {
	Evaluate(ctx context.Context, ec EvalContext) ([]DiscountEffect, error)
}

// ── Queue-backed reference implementations ───────────────────────────────────

// QueueStockDepleter enqueues depletion work for the inventory system.
type QueueStockDepleter struct{ bus events.Publisher }

func NewQueueStockDepleter(bus events.Publisher) *QueueStockDepleter {
	return &QueueStockDepleter{bus: bus}
}

func (q *QueueStockDepleter) Deplete(ctx context.Context, orderID, branchID, staffID uuid.UUID) error {
	return q.bus.Publish(ctx, events.KeyTaskStockDepletion, events.CollaboratorTask{
		Task:     "stock_depletion",
		OrderID:  orderID,
		BranchID: branchID,
		StaffID:  staffID,
		At:       time.Now().UTC(),
	})
}

// QueueLedgerPoster enqueues GL posting work for the accounting system.
type QueueLedgerPoster struct{ bus events.Publisher }

func NewQueueLedgerPoster(bus events.Publisher) *QueueLedgerPoster {
	return &QueueLedgerPoster{bus: bus}
}

func (q *QueueLedgerPoster) Post(ctx context.Context, orderID, branchID, staffID uuid.UUID) error {
	return q.bus.Publish(ctx, events.KeyTaskLedgerPosting, events.CollaboratorTask{
		Task:     "gl_posting",
		OrderID:  orderID,
		BranchID: branchID,
		StaffID:  staffID,
		At:       time.Now().UTC(),
	})
}

// NoopPromotions grants nothing. It stands in until a promotions service is
// wired.
type NoopPromotions struct{}

func (NoopPromotions) Evaluate(ctx context.Context, ec EvalContext) ([]DiscountEffect, error) {
	return nil, nil
}
