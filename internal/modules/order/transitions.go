package order

import (
	"github.com/tilla-pos/api/internal/errs"
)

// validTransitions defines the allowed status state machine. Only listed
// moves are legal; same-state is always a no-op success. Kitchen progress
// may skip states (a counter order can go SENT straight to SERVED).
var validTransitions = map[Status][]Status{
	StatusNew:       {StatusSent, StatusVoided},
	StatusSent:      {StatusInKitchen, StatusReady, StatusServed, StatusVoided},
	StatusInKitchen: {StatusReady, StatusServed, StatusVoided},
	StatusReady:     {StatusServed},
	StatusServed:    {StatusClosed},
	StatusClosed:    {},
	StatusVoided:    {},
}

// forwardPath is the canonical happy path. Close fast-forwards along it, and
// the UI renders it as the "next step" hint.
var forwardPath = map[Status]Status{
	StatusNew:       StatusSent,
	StatusSent:      StatusReady,
	StatusInKitchen: StatusReady,
	StatusReady:     StatusServed,
	StatusServed:    StatusClosed,
}

// Can reports whether the state machine allows moving from one status to
// another, ignoring transition preconditions.
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

// IsTerminal reports whether no further transitions leave the status.
func IsTerminal(s Status) bool {
	return s == StatusClosed || s == StatusVoided
}

// Payable reports whether an order in this status may accept payments.
// Deposits on un-sent orders are legal; terminal orders never pay.
func Payable(s Status) bool {
	switch s {
	case StatusNew, StatusSent, StatusInKitchen, StatusReady, StatusServed:
		return true
	}
	return false
}

// ItemsEditable reports whether the order's lines may still change.
func ItemsEditable(s Status) bool { return s == StatusNew }

// Discountable reports whether a discount may still be applied.
func Discountable(s Status) bool { return !IsTerminal(s) }

// NextStatus returns the canonical forward step for UI guidance. It carries
// no authority; Transition decides legality.
func NextStatus(s Status) (Status, bool) {
	next, ok := forwardPath[s]
	return next, ok
}

// TransitionContext carries the facts preconditions are judged against.
type TransitionContext struct {
	ItemCount       int
	DueCents        int64
	ToleranceCents  int64
	Reason          string
	ManagerApproved bool
}

// Transition validates a status change together with the preconditions the
// target requires. A nil return means the move is legal; same-state returns
// nil so retried requests land softly.
func Transition(from, to Status, tc TransitionContext) error {
	if from == to {
		return nil
	}
	if !Can(from, to) {
		return errs.New(errs.CodeInvalidTransition, "cannot transition order from %s to %s", from, to)
	}

	switch to {
	case StatusSent:
		if tc.ItemCount < 1 {
			return errs.New(errs.CodePreconditionFailed, "cannot send an order with no items")
		}
	case StatusVoided:
		if tc.Reason == "" {
			return errs.New(errs.CodePreconditionFailed, "void requires a reason")
		}
		if (from == StatusSent || from == StatusInKitchen) && !tc.ManagerApproved {
			return errs.New(errs.CodePreconditionFailed, "voiding a %s order requires manager approval", from)
		}
	case StatusClosed:
		if tc.DueCents > tc.ToleranceCents {
			return errs.New(errs.CodePreconditionFailed, "order is not fully paid: %d cents due", tc.DueCents)
		}
	}
	return nil
}

// Op is one till operation gated by order status.
type Op string

const (
	OpEditItems Op = "EDIT_ITEMS"
	OpSend      Op = "SEND"
	OpPay       Op = "PAY"
	OpVoid      Op = "VOID"
	OpDiscount  Op = "DISCOUNT"
)

// AllowedOps is the permission view the till UI renders buttons from. It is
// stricter than Payable: the UI steers payment to the end of service even
// though the ledger accepts deposits earlier.
func AllowedOps(s Status) []Op {
	var ops []Op
	if ItemsEditable(s) {
		ops = append(ops, OpEditItems)
	}
	if s == StatusNew {
		ops = append(ops, OpSend)
	}
	if s == StatusReady || s == StatusServed {
		ops = append(ops, OpPay)
	}
	switch s {
	case StatusNew, StatusSent, StatusInKitchen:
		ops = append(ops, OpVoid)
	}
	if Discountable(s) {
		ops = append(ops, OpDiscount)
	}
	return ops
}
