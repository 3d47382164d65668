package payment

import (
	"time"

	"github.com/google/uuid"
)

// Method is the tender type of a payment.
type Method string

const (
	MethodCash  Method = "CASH"
	MethodCard  Method = "CARD"
	MethodMomo  Method = "MOMO"
	MethodOther Method = "OTHER"
)

// KnownMethod reports whether m is one of the accepted tender types.
func KnownMethod(m Method) bool {
	switch m {
	case MethodCash, MethodCard, MethodMomo, MethodOther:
		return true
	}
	return false
}

// Status is the lifecycle state of one payment.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusCaptured   Status = "CAPTURED"
	StatusRefunded   Status = "REFUNDED"
	StatusVoided     Status = "VOIDED"
	StatusFailed     Status = "FAILED"
)

// validTransitions is the payment state machine. Card payments walk
// PENDING, AUTHORIZED, CAPTURED; instant tenders land on CAPTURED directly.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusAuthorized, StatusCaptured, StatusVoided, StatusFailed},
	StatusAuthorized: {StatusCaptured, StatusVoided},
	StatusCaptured:   {StatusRefunded},
	StatusRefunded:   {},
	StatusVoided:     {},
	StatusFailed:     {},
}

// Can reports whether the payment state machine allows the move. Same-state
// is always allowed so retries resolve to no-ops.
func Can(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Settled reports whether the payment can take no further money movement.
func Settled(s Status) bool {
	return s == StatusRefunded || s == StatusVoided || s == StatusFailed
}

// Payment is one tender against an order. Amount is the part that settles
// the bill; the tip rides on top and never reduces what is due. Captured and
// refunded track the money that actually moved.
type Payment struct {
	ID             uuid.UUID `json:"id"`
	OrgID          uuid.UUID `json:"org_id"`
	OrderID        uuid.UUID `json:"order_id"`
	Method         Method    `json:"method"`
	Status         Status    `json:"status"`
	AmountCents    int64     `json:"amount_cents"`
	TipCents       int64     `json:"tip_cents"`
	CapturedCents  int64     `json:"captured_cents"`
	RefundedCents  int64     `json:"refunded_cents"`
	TenderedCents  int64     `json:"tendered_cents,omitempty"`
	ChangeCents    int64     `json:"change_cents,omitempty"`
	Currency       string    `json:"currency"`
	Provider       string    `json:"provider,omitempty"`
	ProviderRef    string    `json:"provider_ref,omitempty"`
	RefundRef      string    `json:"refund_ref,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	VoidReason     string    `json:"void_reason,omitempty"`
	RefundReason   string    `json:"refund_reason,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedBy      uuid.UUID `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RemainingCents is the captured money not yet refunded.
func (p *Payment) RemainingCents() int64 {
	return p.CapturedCents - p.RefundedCents
}

// Position is the aggregate of one order's payment set, read and written
// under the same lock as the payments themselves.
type Position struct {
	OrderTotalCents int64
	PaidCents       int64
	TipsCents       int64
	ReservedCents   int64
	HasRefund       bool
}

// DueCents is what the order still owes, floored at zero. Open
// authorizations count as reservations so concurrent tenders cannot
// oversubscribe the bill.
func (pos *Position) DueCents() int64 {
	due := pos.OrderTotalCents - pos.PaidCents - pos.ReservedCents
	if due < 0 {
		return 0
	}
	return due
}

// ── Request DTOs ─────────────────────────────────────────────────────────────

// CreatePaymentRequest tenders money against an order. The idempotency key
// is mandatory: the till retries freely and the key collapses the retries
// onto one payment row.
type CreatePaymentRequest struct {
	OrderID        string `json:"order_id"`
	Method         Method `json:"method"`
	AmountCents    int64  `json:"amount_cents"`
	TipCents       int64  `json:"tip_cents,omitempty"`
	TenderedCents  int64  `json:"tendered_cents,omitempty"`
	CardToken      string `json:"card_token,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CapturePaymentRequest settles an authorized card payment. A zero amount
// captures the full authorization.
type CapturePaymentRequest struct {
	AmountCents int64 `json:"amount_cents,omitempty"`
}

// VoidPaymentRequest cancels a payment that has not captured money yet.
type VoidPaymentRequest struct {
	Reason string `json:"reason"`
}

// RefundPaymentRequest returns captured money, fully or in parts.
type RefundPaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}
