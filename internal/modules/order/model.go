package order

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an order.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusSent      Status = "SENT"
	StatusInKitchen Status = "IN_KITCHEN"
	StatusReady     Status = "READY"
	StatusServed    Status = "SERVED"
	StatusClosed    Status = "CLOSED"
	StatusVoided    Status = "VOIDED"
)

// PaymentStatus is the order's settlement position, derived from the payment
// ledger. The column on the orders row is a projection refreshed inside the
// same transaction as any ledger mutation, never incremented in place.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPartial  PaymentStatus = "PARTIALLY_PAID"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// DerivePaymentStatus recomputes the projection from ledger aggregates.
func DerivePaymentStatus(totalCents, paidCents int64, hasRefund bool) PaymentStatus {
	switch {
	case paidCents <= 0 && hasRefund:
		return PaymentRefunded
	case paidCents >= totalCents:
		return PaymentPaid
	case paidCents > 0:
		return PaymentPartial
	default:
		return PaymentUnpaid
	}
}

// Order is one guest check at a branch. Monetary fields are integer cents;
// total = subtotal - discount + tax at all times. Orders are never deleted,
// only terminally transitioned.
type Order struct {
	ID            uuid.UUID     `json:"id"`
	OrgID         uuid.UUID     `json:"org_id"`
	BranchID      uuid.UUID     `json:"branch_id"`
	OrderNumber   string        `json:"order_number"`
	Status        Status        `json:"status"`
	SubtotalCents int64         `json:"subtotal_cents"`
	DiscountCents int64         `json:"discount_cents"`
	TaxCents      int64         `json:"tax_cents"`
	TotalCents    int64         `json:"total_cents"`
	Currency      string        `json:"currency"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Notes         string        `json:"notes,omitempty"`
	VoidReason    string        `json:"void_reason,omitempty"`
	Items         []*Item       `json:"items,omitempty"`
	CreatedBy     uuid.UUID     `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Item is a single line on an order. Station routes the line to a kitchen
// display queue.
type Item struct {
	ID             uuid.UUID `json:"id"`
	OrderID        uuid.UUID `json:"order_id"`
	Name           string    `json:"name"`
	Station        string    `json:"station"`
	Quantity       int64     `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
	Notes          string    `json:"notes,omitempty"`
}

// Stations returns the distinct kitchen stations across the order's items,
// in first-appearance order.
func (o *Order) Stations() []string {
	seen := map[string]bool{}
	var stations []string
	for _, it := range o.Items {
		if !seen[it.Station] {
			seen[it.Station] = true
			stations = append(stations, it.Station)
		}
	}
	return stations
}

// PaymentSummary is the read-side settlement view, recomputed from the full
// payment set on every read. Tips never count toward the amount due.
type PaymentSummary struct {
	PaidCents int64         `json:"paid_cents"`
	TipsCents int64         `json:"tips_cents"`
	DueCents  int64         `json:"due_cents"`
	Status    PaymentStatus `json:"status"`
}

// ── Request DTOs ─────────────────────────────────────────────────────────────

// LineInput describes one requested order line. Prices arrive from the
// caller because the menu catalog lives outside this service.
type LineInput struct {
	Name           string `json:"name"`
	Station        string `json:"station,omitempty"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Notes          string `json:"notes,omitempty"`
}

// CreateOrderRequest is the payload for opening a new order. A caller may
// supply the order id to make creation retries idempotent.
type CreateOrderRequest struct {
	ID            string      `json:"id,omitempty"`
	Items         []LineInput `json:"items"`
	DiscountCents int64       `json:"discount_cents,omitempty"`
	CouponCode    string      `json:"coupon_code,omitempty"`
	Notes         string      `json:"notes,omitempty"`
}

// ModifyItemsRequest replaces the full set of lines on an editable order.
type ModifyItemsRequest struct {
	Items []LineInput `json:"items"`
}

// DiscountRequest applies a manual discount and/or a coupon code.
type DiscountRequest struct {
	DiscountCents int64  `json:"discount_cents"`
	CouponCode    string `json:"coupon_code,omitempty"`
}

// UpdateStatusRequest is the payload for advancing an order's status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// VoidOrderRequest cancels an order. Voiding after the kitchen has the
// order additionally requires manager approval.
type VoidOrderRequest struct {
	Reason          string `json:"reason"`
	ManagerApproved bool   `json:"manager_approved"`
}
