package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Routing keys on the topic exchange. Kitchen tickets fan out per station
// under kds.*; collaborator work queues bind task.*.
const (
	KeyOrderStatus        = "order.status"
	KeyTaskStockDepletion = "task.stock_depletion"
	KeyTaskLedgerPosting  = "task.gl_posting"
)

// KitchenKey builds the routing key for one station's display queue.
func KitchenKey(station string) string {
	return "kds." + strings.ToLower(station)
}

// KitchenTicket tells one kitchen station to open a ticket for an order.
type KitchenTicket struct {
	TicketID    uuid.UUID `json:"ticket_id"`
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Station     string    `json:"station"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
}

// OrderStatusChanged announces a completed order transition.
type OrderStatusChanged struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	At          time.Time `json:"at"`
}

// CollaboratorTask hands a job to an external worker after the triggering
// operation has committed.
type CollaboratorTask struct {
	Task     string    `json:"task"`
	OrderID  uuid.UUID `json:"order_id"`
	BranchID uuid.UUID `json:"branch_id"`
	StaffID  uuid.UUID `json:"staff_id"`
	At       time.Time `json:"at"`
}
