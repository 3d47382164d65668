package payment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tilla-pos/api/internal/errs"
	"github.com/tilla-pos/api/internal/events"
	"github.com/tilla-pos/api/internal/modules/audit"
	"github.com/tilla-pos/api/internal/modules/order"
)

// ── In-memory fixtures ───────────────────────────────────────────────────────

// memStore holds orders and payments behind one mutex so the due re-check in
// Create is as race-honest as the row-locked SQL it stands in for.
type memStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*order.Order
	payments map[uuid.UUID]*Payment
	byKey    map[string]uuid.UUID
	seq      int64
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[uuid.UUID]*order.Order),
		payments: make(map[uuid.UUID]*Payment),
		byKey:    make(map[string]uuid.UUID),
	}
}

func keyOf(orgID uuid.UUID, key string) string { return orgID.String() + "|" + key }

func (s *memStore) positionLocked(orgID, orderID uuid.UUID) (*Position, error) {
	o, ok := s.orders[orderID]
	if !ok || o.OrgID != orgID {
		return nil, errs.New(errs.CodeNotFound, "order not found")
	}
	pos := &Position{OrderTotalCents: o.TotalCents}
	for _, p := range s.payments {
		if p.OrderID != orderID {
			continue
		}
		switch p.Status {
		case StatusCaptured:
			pos.PaidCents += p.CapturedCents - p.RefundedCents
			pos.TipsCents += p.TipCents
		case StatusRefunded:
			pos.PaidCents += p.CapturedCents - p.RefundedCents
		case StatusPending, StatusAuthorized:
			pos.ReservedCents += p.AmountCents
		}
		if p.RefundedCents > 0 {
			pos.HasRefund = true
		}
	}
	return pos, nil
}

func (s *memStore) reprojectLocked(orgID, orderID uuid.UUID) {
	pos, err := s.positionLocked(orgID, orderID)
	if err != nil {
		return
	}
	o := s.orders[orderID]
	o.PaymentStatus = order.DerivePaymentStatus(pos.OrderTotalCents, pos.PaidCents, pos.HasRefund)
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = append([]*order.Item(nil), o.Items...)
	return &cp
}

func clonePayment(p *Payment) *Payment {
	cp := *p
	return &cp
}

// memOrderRepo adapts memStore to order.Repository.
type memOrderRepo struct{ s *memStore }

func (m *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.orders[o.ID]; ok {
		return errs.New(errs.CodeConflict, "order already exists")
	}
	m.s.seq++
	o.OrderNumber = fmt.Sprintf("ORD-TEST-%05d", m.s.seq)
	m.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, orgID, id uuid.UUID) (*order.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.orders[id]
	if !ok || o.OrgID != orgID {
		return nil, errs.New(errs.CodeNotFound, "order not found")
	}
	return cloneOrder(o), nil
}

func (m *memOrderRepo) GetByNumber(_ context.Context, orgID, branchID uuid.UUID, number string) (*order.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, o := range m.s.orders {
		if o.OrgID == orgID && o.BranchID == branchID && o.OrderNumber == number {
			return cloneOrder(o), nil
		}
	}
	return nil, errs.New(errs.CodeNotFound, "order not found")
}

func (m *memOrderRepo) ListByBranch(_ context.Context, orgID, branchID uuid.UUID, status order.Status) ([]*order.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := []*order.Order{}
	for _, o := range m.s.orders {
		if o.OrgID == orgID && o.BranchID == branchID && (status == "" || o.Status == status) {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, orgID, id uuid.UUID, from, to order.Status, voidReason string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.orders[id]
	if !ok || o.OrgID != orgID || o.Status != from {
		return errs.New(errs.CodeConflict, "order changed concurrently")
	}
	o.Status = to
	if voidReason != "" {
		o.VoidReason = voidReason
	}
	return nil
}

func (m *memOrderRepo) ReplaceItems(_ context.Context, o *order.Order) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *memOrderRepo) UpdateAmounts(_ context.Context, o *order.Order) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.orders[o.ID] = cloneOrder(o)
	return nil
}

// memPaymentRepo adapts memStore to Repository with the same admission rules
// the SQL implementation enforces under its row locks.
type memPaymentRepo struct{ s *memStore }

func (m *memPaymentRepo) Create(_ context.Context, p *Payment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.byKey[keyOf(p.OrgID, p.IdempotencyKey)]; ok {
		return errs.New(errs.CodeConflict, "idempotency key already used")
	}
	o, ok := m.s.orders[p.OrderID]
	if !ok || o.OrgID != p.OrgID {
		return errs.New(errs.CodeNotFound, "order not found")
	}
	if p.Status != StatusFailed {
		if !order.Payable(o.Status) {
			return errs.New(errs.CodePreconditionFailed, "a %s order cannot take payments", o.Status)
		}
		pos, err := m.s.positionLocked(p.OrgID, p.OrderID)
		if err != nil {
			return err
		}
		if p.AmountCents > pos.DueCents() {
			return errs.New(errs.CodeOverpayment, "payment of %d exceeds %d due", p.AmountCents, pos.DueCents())
		}
	}
	m.s.payments[p.ID] = clonePayment(p)
	m.s.byKey[keyOf(p.OrgID, p.IdempotencyKey)] = p.ID
	m.s.reprojectLocked(p.OrgID, p.OrderID)
	return nil
}

func (m *memPaymentRepo) GetByID(_ context.Context, orgID, id uuid.UUID) (*Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok || p.OrgID != orgID {
		return nil, errs.New(errs.CodeNotFound, "payment not found")
	}
	return clonePayment(p), nil
}

func (m *memPaymentRepo) GetByKey(_ context.Context, orgID uuid.UUID, key string) (*Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	id, ok := m.s.byKey[keyOf(orgID, key)]
	if !ok {
		return nil, errs.New(errs.CodeNotFound, "payment not found")
	}
	return clonePayment(m.s.payments[id]), nil
}

func (m *memPaymentRepo) ListByOrder(_ context.Context, orgID, orderID uuid.UUID) ([]*Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := []*Payment{}
	for _, p := range m.s.payments {
		if p.OrgID == orgID && p.OrderID == orderID {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

func (m *memPaymentRepo) Position(_ context.Context, orgID, orderID uuid.UUID) (*Position, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.positionLocked(orgID, orderID)
}

func (m *memPaymentRepo) MarkCaptured(_ context.Context, orgID, id uuid.UUID, capturedCents int64) (*Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok || p.OrgID != orgID {
		return nil, errs.New(errs.CodeNotFound, "payment not found")
	}
	if p.Status == StatusCaptured {
		return clonePayment(p), nil
	}
	if p.Status != StatusAuthorized {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot capture a %s payment", p.Status)
	}
	p.Status = StatusCaptured
	p.CapturedCents = capturedCents
	p.UpdatedAt = time.Now().UTC()
	m.s.reprojectLocked(orgID, p.OrderID)
	return clonePayment(p), nil
}

func (m *memPaymentRepo) MarkVoided(_ context.Context, orgID, id uuid.UUID, reason string) (*Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok || p.OrgID != orgID {
		return nil, errs.New(errs.CodeNotFound, "payment not found")
	}
	if p.Status == StatusVoided {
		return clonePayment(p), nil
	}
	if p.Status != StatusPending && p.Status != StatusAuthorized {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot void a %s payment", p.Status)
	}
	p.Status = StatusVoided
	p.VoidReason = reason
	p.UpdatedAt = time.Now().UTC()
	m.s.reprojectLocked(orgID, p.OrderID)
	return clonePayment(p), nil
}

func (m *memPaymentRepo) ApplyRefund(_ context.Context, orgID, id uuid.UUID, amountCents int64, reason, refundRef string) (*Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok || p.OrgID != orgID {
		return nil, errs.New(errs.CodeNotFound, "payment not found")
	}
	if p.Status != StatusCaptured {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot refund a %s payment", p.Status)
	}
	if amountCents > p.CapturedCents-p.RefundedCents {
		return nil, errs.New(errs.CodeRefundExceedsRemaining,
			"refund of %d exceeds remaining %d", amountCents, p.CapturedCents-p.RefundedCents)
	}
	p.RefundedCents += amountCents
	p.RefundReason = reason
	p.RefundRef = refundRef
	if p.RefundedCents >= p.CapturedCents {
		p.Status = StatusRefunded
	}
	p.UpdatedAt = time.Now().UTC()
	m.s.reprojectLocked(orgID, p.OrderID)
	return clonePayment(p), nil
}

// countingProvider wraps the simulator and counts provider round trips.
type countingProvider struct {
	*Simulator
	mu    sync.Mutex
	calls map[string]int
}

func newCountingProvider() *countingProvider {
	return &countingProvider{Simulator: NewSimulator(), calls: make(map[string]int)}
}

func (c *countingProvider) bump(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
}

func (c *countingProvider) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *countingProvider) Authorize(ctx context.Context, amountCents int64, token, currency string) (string, error) {
	c.bump("authorize")
	return c.Simulator.Authorize(ctx, amountCents, token, currency)
}

func (c *countingProvider) Capture(ctx context.Context, authID string, amountCents int64) (int64, error) {
	c.bump("capture")
	return c.Simulator.Capture(ctx, authID, amountCents)
}

func (c *countingProvider) Void(ctx context.Context, authID string) error {
	c.bump("void")
	return c.Simulator.Void(ctx, authID)
}

func (c *countingProvider) Refund(ctx context.Context, authID string, amountCents int64) (*Refund, error) {
	c.bump("refund")
	return c.Simulator.Refund(ctx, authID, amountCents)
}

type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAudit) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

type payFixture struct {
	svc      Service
	store    *memStore
	orders   *memOrderRepo
	provider *countingProvider
	trail    *memAudit
	orgID    uuid.UUID
	actor    order.Actor
}

func newPayFixture(t *testing.T, timeout time.Duration) *payFixture {
	t.Helper()
	store := newMemStore()
	provider := newCountingProvider()
	trail := &memAudit{}
	tasks := events.NewDispatcher(trail, time.Second, zap.NewNop())
	t.Cleanup(tasks.Wait)

	svc := NewService(&memPaymentRepo{s: store}, &memOrderRepo{s: store},
		NewRegistry(provider), tasks, trail,
		Policy{CardProvider: "simulator", ProviderTimeout: timeout},
		zap.NewNop())

	return &payFixture{
		svc:      svc,
		store:    store,
		orders:   &memOrderRepo{s: store},
		provider: provider,
		trail:    trail,
		orgID:    uuid.New(),
		actor:    order.Actor{StaffID: uuid.New(), BranchID: uuid.New()},
	}
}

func (f *payFixture) seedOrder(t *testing.T, totalCents int64, status order.Status) *order.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &order.Order{
		ID:            uuid.New(),
		OrgID:         f.orgID,
		BranchID:      f.actor.BranchID,
		Status:        status,
		SubtotalCents: totalCents,
		TotalCents:    totalCents,
		Currency:      "UGX",
		PaymentStatus: order.PaymentUnpaid,
		CreatedBy:     f.actor.StaffID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

func (f *payFixture) orderStatus(orderID uuid.UUID) order.PaymentStatus {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.orders[orderID].PaymentStatus
}

func (f *payFixture) idByKey(key string) uuid.UUID {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.byKey[keyOf(f.orgID, key)]
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestCashPaymentSettlesOrder(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()

	p, replayed, err := f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCash,
		AmountCents:    11000,
		TenderedCents:  12000,
		IdempotencyKey: "till-1-receipt-42",
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, StatusCaptured, p.Status)
	assert.Equal(t, int64(11000), p.CapturedCents)
	assert.Equal(t, int64(1000), p.ChangeCents)
	assert.Equal(t, "UGX", p.Currency)

	sum, err := f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11000), sum.PaidCents)
	assert.Equal(t, int64(0), sum.DueCents)
	assert.Equal(t, order.PaymentPaid, sum.Status)
	assert.Equal(t, order.PaymentPaid, f.orderStatus(o.ID))
	assert.Contains(t, f.trail.actions(), "payment.created")
}

func TestCardDeclineLeavesDueIntact(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()
	req := CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCard,
		AmountCents:    5000,
		CardToken:      TokenDecline,
		IdempotencyKey: "till-1-receipt-43",
	}

	_, _, err := f.svc.Create(ctx, f.orgID, f.actor, req)
	require.Error(t, err)
	e := errs.AsError(err)
	assert.Equal(t, errs.CodeProviderDeclined, e.Code)
	assert.Equal(t, ErrCodeCardDeclined, e.Detail)

	// The attempt left a FAILED record behind for reconciliation.
	row, err := f.svc.Get(ctx, f.orgID, f.idByKey(req.IdempotencyKey))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, row.Status)
	assert.Equal(t, ErrCodeCardDeclined, row.ErrorCode)

	sum, err := f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.PaidCents)
	assert.Equal(t, int64(11000), sum.DueCents)
	assert.Equal(t, order.PaymentUnpaid, sum.Status)

	// Replaying the key repeats the decline without a second authorize.
	_, _, err = f.svc.Create(ctx, f.orgID, f.actor, req)
	require.Error(t, err)
	assert.Equal(t, errs.CodeProviderDeclined, errs.CodeOf(err))
	assert.Equal(t, 1, f.provider.count("authorize"))
	assert.Contains(t, f.trail.actions(), "payment.failed")
}

func TestIdempotencyKeyReplaysPayment(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()
	req := CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCash,
		AmountCents:    4000,
		IdempotencyKey: "till-1-receipt-44",
	}

	first, replayed, err := f.svc.Create(ctx, f.orgID, f.actor, req)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := f.svc.Create(ctx, f.orgID, f.actor, req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)

	list, err := f.svc.ListByOrder(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	sum, err := f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), sum.PaidCents)
}

func TestConcurrentTendersNeverOversubscribe(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()

	const tenders = 10
	outcomes := make([]error, tenders)
	var wg sync.WaitGroup
	for i := 0; i < tenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, outcomes[i] = f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
				OrderID:        o.ID.String(),
				Method:         MethodCash,
				AmountCents:    3000,
				IdempotencyKey: fmt.Sprintf("till-%d-receipt-45", i),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range outcomes {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, errs.CodeOverpayment, errs.CodeOf(err))
	}
	assert.Equal(t, 3, succeeded)

	sum, err := f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), sum.PaidCents)
	assert.Equal(t, int64(2000), sum.DueCents)
	assert.Equal(t, order.PaymentPartial, sum.Status)
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	base := func() CreatePaymentRequest {
		return CreatePaymentRequest{
			OrderID:        o.ID.String(),
			Method:         MethodCash,
			AmountCents:    1000,
			IdempotencyKey: "till-1-receipt-46",
		}
	}

	tests := []struct {
		name   string
		mutate func(*CreatePaymentRequest)
	}{
		{"missing key", func(r *CreatePaymentRequest) { r.IdempotencyKey = " " }},
		{"zero amount", func(r *CreatePaymentRequest) { r.AmountCents = 0 }},
		{"negative tip", func(r *CreatePaymentRequest) { r.TipCents = -1 }},
		{"tip over limit", func(r *CreatePaymentRequest) { r.TipCents = 5001 }},
		{"unknown method", func(r *CreatePaymentRequest) { r.Method = "BARTER" }},
		{"card without token", func(r *CreatePaymentRequest) { r.Method = MethodCard }},
		{"tendered on card", func(r *CreatePaymentRequest) {
			r.Method = MethodCard
			r.CardToken = "tok-1"
			r.TenderedCents = 2000
		}},
		{"tendered under amount plus tip", func(r *CreatePaymentRequest) {
			r.TipCents = 500
			r.TenderedCents = 1200
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)
			_, _, err := f.svc.Create(context.Background(), f.orgID, f.actor, req)
			require.Error(t, err)
			assert.Equal(t, errs.CodePreconditionFailed, errs.CodeOf(err))
		})
	}
}

func TestCardAuthorizeThenCapture(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()

	p, _, err := f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCard,
		AmountCents:    11000,
		CardToken:      "tok-visa",
		IdempotencyKey: "till-1-receipt-47",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, p.Status)
	assert.NotEmpty(t, p.ProviderRef)

	// The open authorization reserves the due, so a second tender bounces
	// even though nothing has captured yet.
	_, _, err = f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCash,
		AmountCents:    5000,
		IdempotencyKey: "till-2-receipt-47",
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeOverpayment, errs.CodeOf(err))

	// The reported due only counts captured money.
	sum, err := f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11000), sum.DueCents)

	captured, err := f.svc.Capture(ctx, f.orgID, p.ID, f.actor, CapturePaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, captured.Status)
	assert.Equal(t, int64(11000), captured.CapturedCents)
	assert.Equal(t, 1, f.provider.count("capture"))

	// Capturing again replays the result without another provider call.
	again, err := f.svc.Capture(ctx, f.orgID, p.ID, f.actor, CapturePaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(11000), again.CapturedCents)
	assert.Equal(t, 1, f.provider.count("capture"))

	sum, err = f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.DueCents)
	assert.Equal(t, order.PaymentPaid, sum.Status)
}

func TestCaptureRejectsWrongStates(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()

	cash, _, err := f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCash,
		AmountCents:    2000,
		IdempotencyKey: "till-1-receipt-48",
	})
	require.NoError(t, err)

	// Cash captured instantly; a capture call lands softly.
	got, err := f.svc.Capture(ctx, f.orgID, cash.ID, f.actor, CapturePaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, got.Status)

	_, _, err = f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCard,
		AmountCents:    1000,
		CardToken:      TokenDecline,
		IdempotencyKey: "till-1-receipt-49",
	})
	require.Error(t, err)

	failed, err := f.svc.Get(ctx, f.orgID, f.idByKey("till-1-receipt-49"))
	require.NoError(t, err)
	_, err = f.svc.Capture(ctx, f.orgID, failed.ID, f.actor, CapturePaymentRequest{})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
}

func TestVoidReleasesReservation(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()

	p, _, err := f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCard,
		AmountCents:    11000,
		CardToken:      "tok-visa",
		IdempotencyKey: "till-1-receipt-50",
	})
	require.NoError(t, err)

	_, err = f.svc.Void(ctx, f.orgID, p.ID, f.actor, VoidPaymentRequest{Reason: "short"})
	require.Error(t, err)
	assert.Equal(t, errs.CodePreconditionFailed, errs.CodeOf(err))

	voided, err := f.svc.Void(ctx, f.orgID, p.ID, f.actor, VoidPaymentRequest{Reason: "customer switched to cash"})
	require.NoError(t, err)
	assert.Equal(t, StatusVoided, voided.Status)
	assert.Equal(t, 1, f.provider.count("void"))

	// Re-voiding is a no-op with no further provider round trip.
	again, err := f.svc.Void(ctx, f.orgID, p.ID, f.actor, VoidPaymentRequest{Reason: "customer switched to cash"})
	require.NoError(t, err)
	assert.Equal(t, StatusVoided, again.Status)
	assert.Equal(t, 1, f.provider.count("void"))

	// The reservation is gone, so the bill can be tendered again.
	cash, _, err := f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCash,
		AmountCents:    11000,
		IdempotencyKey: "till-1-receipt-51",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, cash.Status)

	// Captured money can no longer be voided.
	_, err = f.svc.Void(ctx, f.orgID, cash.ID, f.actor, VoidPaymentRequest{Reason: "fat fingered the amount"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
}

func TestRefundLifecycle(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()

	p, _, err := f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCash,
		AmountCents:    11000,
		IdempotencyKey: "till-1-receipt-52",
	})
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, f.orgID, p.ID, f.actor, RefundPaymentRequest{AmountCents: 4000, Reason: "too short"})
	require.Error(t, err)
	assert.Equal(t, errs.CodePreconditionFailed, errs.CodeOf(err))

	_, err = f.svc.Refund(ctx, f.orgID, p.ID, f.actor, RefundPaymentRequest{AmountCents: 20000, Reason: "cold food complaint"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeRefundExceedsRemaining, errs.CodeOf(err))

	partial, err := f.svc.Refund(ctx, f.orgID, p.ID, f.actor, RefundPaymentRequest{AmountCents: 4000, Reason: "cold food complaint"})
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, partial.Status)
	assert.Equal(t, int64(4000), partial.RefundedCents)
	assert.Equal(t, int64(7000), partial.RemainingCents())

	sum, err := f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), sum.PaidCents)
	assert.Equal(t, int64(4000), sum.DueCents)
	assert.Equal(t, order.PaymentPartial, sum.Status)

	full, err := f.svc.Refund(ctx, f.orgID, p.ID, f.actor, RefundPaymentRequest{AmountCents: 7000, Reason: "cold food complaint"})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, full.Status)
	assert.Equal(t, int64(0), full.RemainingCents())

	sum, err = f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.PaidCents)
	assert.Equal(t, order.PaymentRefunded, sum.Status)

	_, err = f.svc.Refund(ctx, f.orgID, p.ID, f.actor, RefundPaymentRequest{AmountCents: 100, Reason: "cold food complaint"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
}

func TestCardRefundCarriesProviderRef(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()

	p, _, err := f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCard,
		AmountCents:    11000,
		CardToken:      "tok-visa",
		IdempotencyKey: "till-1-receipt-53",
	})
	require.NoError(t, err)
	_, err = f.svc.Capture(ctx, f.orgID, p.ID, f.actor, CapturePaymentRequest{})
	require.NoError(t, err)

	refunded, err := f.svc.Refund(ctx, f.orgID, p.ID, f.actor, RefundPaymentRequest{AmountCents: 11000, Reason: "event cancelled by venue"})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)
	assert.Contains(t, refunded.RefundRef, "sim-refund-")
	assert.Equal(t, 1, f.provider.count("refund"))
}

func TestProviderTimeoutFailsPayment(t *testing.T) {
	f := newPayFixture(t, 50*time.Millisecond)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()
	req := CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCard,
		AmountCents:    5000,
		CardToken:      TokenSlow,
		IdempotencyKey: "till-1-receipt-54",
	}

	_, _, err := f.svc.Create(ctx, f.orgID, f.actor, req)
	require.Error(t, err)
	e := errs.AsError(err)
	assert.Equal(t, errs.CodeProviderDeclined, e.Code)
	assert.Equal(t, ErrCodeProviderTimeout, e.Detail)

	// The ambiguous attempt is recorded as FAILED, not left PENDING.
	row, err := f.svc.Get(ctx, f.orgID, f.idByKey(req.IdempotencyKey))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, row.Status)
	assert.Equal(t, ErrCodeProviderTimeout, row.ErrorCode)

	sum, err := f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11000), sum.DueCents)
}

func TestPaymentAgainstTerminalOrder(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusVoided)

	_, _, err := f.svc.Create(context.Background(), f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCash,
		AmountCents:    1000,
		IdempotencyKey: "till-1-receipt-55",
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodePreconditionFailed, errs.CodeOf(err))
}

func TestSummarizeUnknownOrder(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	_, err := f.svc.Summarize(context.Background(), f.orgID, uuid.New())
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestTipsRideOnTopOfDue(t *testing.T) {
	f := newPayFixture(t, 2*time.Second)
	o := f.seedOrder(t, 11000, order.StatusServed)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, f.orgID, f.actor, CreatePaymentRequest{
		OrderID:        o.ID.String(),
		Method:         MethodCash,
		AmountCents:    11000,
		TipCents:       2000,
		TenderedCents:  13000,
		IdempotencyKey: "till-1-receipt-56",
	})
	require.NoError(t, err)

	sum, err := f.svc.Summarize(ctx, f.orgID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11000), sum.PaidCents)
	assert.Equal(t, int64(2000), sum.TipsCents)
	assert.Equal(t, int64(0), sum.DueCents)
}
