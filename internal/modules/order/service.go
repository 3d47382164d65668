package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilla-pos/api/internal/collab"
	"github.com/tilla-pos/api/internal/errs"
	"github.com/tilla-pos/api/internal/events"
	"github.com/tilla-pos/api/internal/modules/audit"
)

// DefaultStation receives lines whose caller named no station.
const DefaultStation = "kitchen"

// PaymentSummarizer reports how much of an order has been collected. The
// payment module provides the implementation; keeping the contract here lets
// orders stay ignorant of payment internals.
type PaymentSummarizer interface {
	Summarize(ctx context.Context, orgID, orderID uuid.UUID) (*PaymentSummary, error)
}

// Actor identifies the staff member behind a request.
type Actor struct {
	StaffID  uuid.UUID
	BranchID uuid.UUID
}

// Policy carries the deployment-level money rules.
type Policy struct {
	Currency            string
	TaxRateBps          int64
	CloseToleranceCents int64
}

// View is the read model for a single order: the order itself, its payment
// position and what the till may do with it next. NextStatus is empty once
// the order is terminal.
type View struct {
	*Order
	Payments   *PaymentSummary `json:"payments"`
	AllowedOps []Op            `json:"allowed_ops"`
	NextStatus Status          `json:"next_status,omitempty"`
}

type Service interface {
	// Create opens a new order with at least one line. Callers may supply
	// the order id; retries with the same id return the existing order.
	Create(ctx context.Context, orgID uuid.UUID, actor Actor, req CreateOrderRequest) (*Order, error)

	// Get returns one order with its payment summary and allowed operations.
	Get(ctx context.Context, orgID, id uuid.UUID) (*View, error)

	// List returns a branch's orders, optionally filtered by status.
	List(ctx context.Context, orgID, branchID uuid.UUID, status Status) ([]*Order, error)

	// ModifyItems replaces the lines of a NEW order and reprices it.
	ModifyItems(ctx context.Context, orgID, id uuid.UUID, actor Actor, req ModifyItemsRequest) (*Order, error)

	// ApplyDiscount sets the manual discount and/or coupon on an open order.
	ApplyDiscount(ctx context.Context, orgID, id uuid.UUID, actor Actor, req DiscountRequest) (*Order, error)

	// SendToKitchen moves a NEW order to SENT. Re-sending is a no-op.
	SendToKitchen(ctx context.Context, orgID, id uuid.UUID, actor Actor) (*Order, error)

	// UpdateStatus advances an order along the kitchen flow (SENT,
	// IN_KITCHEN, READY, SERVED). Voiding and closing have their own calls.
	UpdateStatus(ctx context.Context, orgID, id uuid.UUID, actor Actor, req UpdateStatusRequest) (*Order, error)

	// Void cancels an order. Once the kitchen has it, manager approval is
	// required. Re-voiding a VOIDED order is a no-op.
	Void(ctx context.Context, orgID, id uuid.UUID, actor Actor, req VoidOrderRequest) (*Order, error)

	// Close settles a fully paid order, fast-forwarding intermediate kitchen
	// states, then hands stock depletion and GL posting to the background.
	Close(ctx context.Context, orgID, id uuid.UUID, actor Actor) (*Order, error)
}

type service struct {
	repo      Repository
	summaries PaymentSummarizer
	promos    collab.PromotionEngine
	stock     collab.StockDepleter
	ledger    collab.LedgerPoster
	bus       events.Publisher
	tasks     *events.Dispatcher
	audits    audit.Recorder
	pol       Policy
	log       *zap.Logger
}

func NewService(
	repo Repository,
	summaries PaymentSummarizer,
	promos collab.PromotionEngine,
	stock collab.StockDepleter,
	ledger collab.LedgerPoster,
	bus events.Publisher,
	tasks *events.Dispatcher,
	audits audit.Recorder,
	pol Policy,
	log *zap.Logger,
) Service {
	return &service{
		repo:      repo,
		summaries: summaries,
		promos:    promos,
		stock:     stock,
		ledger:    ledger,
		bus:       bus,
		tasks:     tasks,
		audits:    audits,
		pol:       pol,
		log:       log,
	}
}

func (s *service) Create(ctx context.Context, orgID uuid.UUID, actor Actor, req CreateOrderRequest) (*Order, error) {
	items, subtotal, err := buildLines(req.Items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errs.New(errs.CodePreconditionFailed, "an order needs at least one item")
	}

	id := uuid.New()
	if req.ID != "" {
		id, err = uuid.Parse(req.ID)
		if err != nil {
			return nil, errs.New(errs.CodePreconditionFailed, "invalid order id %q", req.ID)
		}
		existing, err := s.repo.GetByID(ctx, orgID, id)
		if err == nil {
			return existing, nil
		}
		if !errs.HasCode(err, errs.CodeNotFound) {
			return nil, err
		}
	}

	discount, err := s.discountFor(ctx, actor.BranchID, items, req.DiscountCents, req.CouponCode, subtotal)
	if err != nil {
		return nil, err
	}
	tax := taxOn(subtotal-discount, s.pol.TaxRateBps)

	now := time.Now().UTC()
	o := &Order{
		ID:            id,
		OrgID:         orgID,
		BranchID:      actor.BranchID,
		Status:        StatusNew,
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TaxCents:      tax,
		TotalCents:    subtotal - discount + tax,
		Currency:      s.pol.Currency,
		PaymentStatus: PaymentUnpaid,
		Notes:         strings.TrimSpace(req.Notes),
		Items:         items,
		CreatedBy:     actor.StaffID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, item := range o.Items {
		item.OrderID = o.ID
	}

	if err := s.repo.Create(ctx, o); err != nil {
		// A raced retry with the same client-supplied id loses the insert;
		// the winner's row is the answer.
		if req.ID != "" && errs.HasCode(err, errs.CodeConflict) {
			return s.repo.GetByID(ctx, orgID, id)
		}
		return nil, err
	}

	s.audit(ctx, orgID, o.ID, actor, "order.created",
		fmt.Sprintf("%s: %d items, total %d %s", o.OrderNumber, len(o.Items), o.TotalCents, o.Currency))
	s.emitTickets(orgID, o)
	return o, nil
}

func (s *service) Get(ctx context.Context, orgID, id uuid.UUID) (*View, error) {
	o, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	sum, err := s.summaries.Summarize(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	view := &View{Order: o, Payments: sum, AllowedOps: AllowedOps(o.Status)}
	if next, ok := NextStatus(o.Status); ok {
		view.NextStatus = next
	}
	return view, nil
}

func (s *service) List(ctx context.Context, orgID, branchID uuid.UUID, status Status) ([]*Order, error) {
	if status != "" && !knownStatus(status) {
		return nil, errs.New(errs.CodePreconditionFailed, "unknown status %q", status)
	}
	return s.repo.ListByBranch(ctx, orgID, branchID, status)
}

func (s *service) ModifyItems(ctx context.Context, orgID, id uuid.UUID, actor Actor, req ModifyItemsRequest) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !ItemsEditable(o.Status) {
		return nil, errs.New(errs.CodePreconditionFailed, "items of a %s order can no longer change", o.Status)
	}

	items, subtotal, err := buildLines(req.Items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errs.New(errs.CodePreconditionFailed, "an order needs at least one item")
	}

	discount := o.DiscountCents
	if discount > subtotal {
		discount = subtotal
	}
	tax := taxOn(subtotal-discount, s.pol.TaxRateBps)

	for _, item := range items {
		item.OrderID = o.ID
	}
	o.Items = items
	o.SubtotalCents = subtotal
	o.DiscountCents = discount
	o.TaxCents = tax
	o.TotalCents = subtotal - discount + tax
	o.UpdatedAt = time.Now().UTC()

	if err := s.repo.ReplaceItems(ctx, o); err != nil {
		return nil, err
	}
	s.audit(ctx, orgID, o.ID, actor, "order.items_replaced",
		fmt.Sprintf("%d items, total %d %s", len(o.Items), o.TotalCents, o.Currency))
	return o, nil
}

func (s *service) ApplyDiscount(ctx context.Context, orgID, id uuid.UUID, actor Actor, req DiscountRequest) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !Discountable(o.Status) {
		return nil, errs.New(errs.CodePreconditionFailed, "a %s order can no longer be discounted", o.Status)
	}

	discount, err := s.discountFor(ctx, o.BranchID, o.Items, req.DiscountCents, req.CouponCode, o.SubtotalCents)
	if err != nil {
		return nil, err
	}
	o.DiscountCents = discount
	o.TaxCents = taxOn(o.SubtotalCents-discount, s.pol.TaxRateBps)
	o.TotalCents = o.SubtotalCents - discount + o.TaxCents
	o.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateAmounts(ctx, o); err != nil {
		return nil, err
	}
	s.audit(ctx, orgID, o.ID, actor, "order.discounted",
		fmt.Sprintf("discount %d, total %d %s", o.DiscountCents, o.TotalCents, o.Currency))
	return o, nil
}

func (s *service) SendToKitchen(ctx context.Context, orgID, id uuid.UUID, actor Actor) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusSent {
		return o, nil
	}
	return s.move(ctx, orgID, actor, o, StatusSent, TransitionContext{ItemCount: len(o.Items)}, "order.sent", "")
}

func (s *service) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, actor Actor, req UpdateStatusRequest) (*Order, error) {
	target := Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	switch target {
	case StatusSent, StatusInKitchen, StatusReady, StatusServed:
	case StatusVoided, StatusClosed:
		return nil, errs.New(errs.CodePreconditionFailed, "use the dedicated void/close operation for %s", target)
	default:
		return nil, errs.New(errs.CodePreconditionFailed, "unknown status %q", req.Status)
	}

	o, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if o.Status == target {
		return o, nil
	}
	return s.move(ctx, orgID, actor, o, target, TransitionContext{ItemCount: len(o.Items)}, "order.status_updated", "")
}

func (s *service) Void(ctx context.Context, orgID, id uuid.UUID, actor Actor, req VoidOrderRequest) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusVoided {
		return o, nil
	}

	reason := strings.TrimSpace(req.Reason)
	tc := TransitionContext{Reason: reason, ManagerApproved: req.ManagerApproved}
	return s.move(ctx, orgID, actor, o, StatusVoided, tc, "order.voided", reason)
}

func (s *service) Close(ctx context.Context, orgID, id uuid.UUID, actor Actor) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusClosed {
		return o, nil
	}

	sum, err := s.summaries.Summarize(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	tc := TransitionContext{
		ItemCount:      len(o.Items),
		DueCents:       sum.DueCents,
		ToleranceCents: s.pol.CloseToleranceCents,
	}

	// Closing fast-forwards along the canonical path, so a paid order does
	// not have to be walked through READY and SERVED by hand. Every skipped
	// hop is still validated.
	for st := o.Status; st != StatusClosed; {
		next, ok := NextStatus(st)
		if !ok {
			return nil, errs.New(errs.CodeInvalidTransition, "cannot close a %s order", o.Status)
		}
		if err := Transition(st, next, tc); err != nil {
			return nil, err
		}
		st = next
	}

	closed, err := s.move(ctx, orgID, actor, o, StatusClosed, tc, "order.closed",
		fmt.Sprintf("paid %d of %d %s", sum.PaidCents, o.TotalCents, o.Currency))
	if err != nil {
		return nil, err
	}

	s.tasks.Go(orgID, closed.ID, "collab.stock_depletion", func(ctx context.Context) error {
		return s.stock.Deplete(ctx, closed.ID, closed.BranchID, actor.StaffID)
	})
	s.tasks.Go(orgID, closed.ID, "collab.gl_posting", func(ctx context.Context) error {
		return s.ledger.Post(ctx, closed.ID, closed.BranchID, actor.StaffID)
	})
	return closed, nil
}

// ── Internals ────────────────────────────────────────────────────────────────

// move validates and writes one status change with a compare-and-write. When
// the write races, the reloaded order decides: already at the target means
// some other till won the same request and the call degrades to a no-op.
func (s *service) move(ctx context.Context, orgID uuid.UUID, actor Actor, o *Order, to Status, tc TransitionContext, action, detail string) (*Order, error) {
	from := o.Status
	if to != StatusClosed {
		// Close validates its whole fast-forward path before calling here.
		if err := Transition(from, to, tc); err != nil {
			return nil, err
		}
	}

	voidReason := ""
	if to == StatusVoided {
		voidReason = tc.Reason
	}

	if err := s.repo.UpdateStatus(ctx, orgID, o.ID, from, to, voidReason); err != nil {
		if !errs.HasCode(err, errs.CodeConflict) {
			return nil, err
		}
		cur, gerr := s.repo.GetByID(ctx, orgID, o.ID)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status == to {
			return cur, nil
		}
		return nil, err
	}

	o.Status = to
	o.VoidReason = voidReason
	o.UpdatedAt = time.Now().UTC()

	s.audit(ctx, orgID, o.ID, actor, action, detail)
	s.announce(orgID, o, from, to)
	return o, nil
}

// emitTickets fans one kitchen ticket per station out to the display queues
// as soon as the order exists. Later edits and status changes reach the
// displays through the order.status stream.
func (s *service) emitTickets(orgID uuid.UUID, o *Order) {
	at := time.Now().UTC()
	for _, station := range o.Stations() {
		ticket := events.KitchenTicket{
			TicketID:    uuid.New(),
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Station:     station,
			Status:      "QUEUED",
			At:          at,
		}
		s.tasks.Go(orgID, o.ID, "kds.ticket", func(ctx context.Context) error {
			return s.bus.Publish(ctx, events.KitchenKey(ticket.Station), ticket)
		})
	}
}

func (s *service) announce(orgID uuid.UUID, o *Order, from, to Status) {
	evt := events.OrderStatusChanged{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		From:        string(from),
		To:          string(to),
		At:          time.Now().UTC(),
	}
	s.tasks.Go(orgID, o.ID, "order.status_event", func(ctx context.Context) error {
		return s.bus.Publish(ctx, events.KeyOrderStatus, evt)
	})
}

// audit writes a trail entry without failing the operation it describes.
func (s *service) audit(ctx context.Context, orgID, orderID uuid.UUID, actor Actor, action, detail string) {
	actorID := actor.StaffID
	if err := s.audits.Record(ctx, audit.Entry{
		OrgID:   orgID,
		OrderID: orderID,
		ActorID: &actorID,
		Action:  action,
		Detail:  detail,
	}); err != nil {
		s.log.Warn("audit record failed",
			zap.String("action", action),
			zap.String("order_id", orderID.String()),
			zap.Error(err))
	}
}

// discountFor combines the cashier's manual discount with whatever the
// promotion engine grants, clamped to the subtotal. A promotions outage
// degrades to no granted discount instead of blocking the sale.
func (s *service) discountFor(ctx context.Context, branchID uuid.UUID, items []*Item, manual int64, coupon string, subtotal int64) (int64, error) {
	if manual < 0 {
		return 0, errs.New(errs.CodePreconditionFailed, "discount cannot be negative")
	}
	if manual > subtotal {
		return 0, errs.New(errs.CodePreconditionFailed, "discount %d exceeds subtotal %d", manual, subtotal)
	}

	total := manual
	coupon = strings.TrimSpace(coupon)
	ec := collab.EvalContext{
		BranchID:   branchID,
		Items:      promoLines(items),
		At:         time.Now().UTC(),
		CouponCode: coupon,
	}
	effects, err := s.promos.Evaluate(ctx, ec)
	if err != nil {
		s.log.Warn("promotion evaluation failed",
			zap.String("branch_id", branchID.String()),
			zap.String("coupon", coupon),
			zap.Error(err))
	}
	for _, e := range effects {
		total += e.AmountCents
	}
	if total > subtotal {
		total = subtotal
	}
	if total < 0 {
		total = 0
	}
	return total, nil
}

func promoLines(items []*Item) []collab.LineItem {
	lines := make([]collab.LineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, collab.LineItem{
			Name:           item.Name,
			Station:        item.Station,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return lines
}

// buildLines validates the requested lines and prices them.
func buildLines(in []LineInput) ([]*Item, int64, error) {
	items := make([]*Item, 0, len(in))
	var subtotal int64
	for i, li := range in {
		name := strings.TrimSpace(li.Name)
		if name == "" {
			return nil, 0, errs.New(errs.CodePreconditionFailed, "item %d: name is required", i+1)
		}
		if li.Quantity < 1 {
			return nil, 0, errs.New(errs.CodePreconditionFailed, "item %d: quantity must be at least 1", i+1)
		}
		if li.UnitPriceCents < 0 {
			return nil, 0, errs.New(errs.CodePreconditionFailed, "item %d: unit price cannot be negative", i+1)
		}
		station := strings.TrimSpace(li.Station)
		if station == "" {
			station = DefaultStation
		}
		items = append(items, &Item{
			ID:             uuid.New(),
			Name:           name,
			Station:        station,
			Quantity:       li.Quantity,
			UnitPriceCents: li.UnitPriceCents,
			LineTotalCents: li.Quantity * li.UnitPriceCents,
			Notes:          strings.TrimSpace(li.Notes),
		})
		subtotal += li.Quantity * li.UnitPriceCents
	}
	return items, subtotal, nil
}

// taxOn rounds half-up on the discounted base.
func taxOn(taxable, rateBps int64) int64 {
	if taxable <= 0 || rateBps <= 0 {
		return 0
	}
	return (taxable*rateBps + 5000) / 10000
}

func knownStatus(s Status) bool {
	switch s {
	case StatusNew, StatusSent, StatusInKitchen, StatusReady, StatusServed, StatusClosed, StatusVoided:
		return true
	}
	return false
}
