package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilla-pos/api/internal/errs"
	"github.com/tilla-pos/api/internal/events"
	"github.com/tilla-pos/api/internal/modules/audit"
	"github.com/tilla-pos/api/internal/modules/order"
)

const (
	minReasonLen   = 10
	maxTipMultiple = 5
)

// Policy carries the deployment-level payment rules.
type Policy struct {
	CardProvider    string
	ProviderTimeout time.Duration
}

type Service interface {
	// Create tenders money against an order. Card payments authorize with
	// the provider; instant tenders capture on the spot. The returned bool
	// reports whether the idempotency key replayed an earlier attempt.
	Create(ctx context.Context, orgID uuid.UUID, actor order.Actor, req CreatePaymentRequest) (*Payment, bool, error)

	Get(ctx context.Context, orgID, id uuid.UUID) (*Payment, error)

	ListByOrder(ctx context.Context, orgID, orderID uuid.UUID) ([]*Payment, error)

	// Capture settles an authorized card payment. Capturing a CAPTURED
	// payment is a no-op returning the prior result.
	Capture(ctx context.Context, orgID, id uuid.UUID, actor order.Actor, req CapturePaymentRequest) (*Payment, error)

	// Void cancels a payment that has not captured money. Re-voiding is a
	// no-op.
	Void(ctx context.Context, orgID, id uuid.UUID, actor order.Actor, req VoidPaymentRequest) (*Payment, error)

	// Refund returns captured money, partially or in full.
	Refund(ctx context.Context, orgID, id uuid.UUID, actor order.Actor, req RefundPaymentRequest) (*Payment, error)

	// Summarize satisfies order.PaymentSummarizer. Due counts captured
	// money only; tips never reduce it.
	Summarize(ctx context.Context, orgID, orderID uuid.UUID) (*order.PaymentSummary, error)
}

type service struct {
	repo      Repository
	orders    order.Repository
	providers *Registry
	tasks     *events.Dispatcher
	audits    audit.Recorder
	pol       Policy
	log       *zap.Logger
}

func NewService(
	repo Repository,
	orders order.Repository,
	providers *Registry,
	tasks *events.Dispatcher,
	audits audit.Recorder,
	pol Policy,
	log *zap.Logger,
) Service {
	return &service{
		repo:      repo,
		orders:    orders,
		providers: providers,
		tasks:     tasks,
		audits:    audits,
		pol:       pol,
		log:       log,
	}
}

func (s *service) Create(ctx context.Context, orgID uuid.UUID, actor order.Actor, req CreatePaymentRequest) (*Payment, bool, error) {
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return nil, false, errs.New(errs.CodePreconditionFailed, "invalid order id %q", req.OrderID)
	}
	if !KnownMethod(req.Method) {
		return nil, false, errs.New(errs.CodePreconditionFailed, "unknown payment method %q", req.Method)
	}
	if req.AmountCents <= 0 {
		return nil, false, errs.New(errs.CodePreconditionFailed, "amount must be positive")
	}
	if req.TipCents < 0 {
		return nil, false, errs.New(errs.CodePreconditionFailed, "tip cannot be negative")
	}
	if req.TipCents > maxTipMultiple*req.AmountCents {
		return nil, false, errs.New(errs.CodePreconditionFailed, "tip of %d exceeds %d times the amount", req.TipCents, maxTipMultiple)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, false, errs.New(errs.CodePreconditionFailed, "idempotency key is required")
	}
	if req.Method == MethodCard && strings.TrimSpace(req.CardToken) == "" {
		return nil, false, errs.New(errs.CodePreconditionFailed, "card payments need a card token")
	}
	if req.TenderedCents != 0 {
		if req.Method != MethodCash {
			return nil, false, errs.New(errs.CodePreconditionFailed, "tendered amount only applies to cash")
		}
		if req.TenderedCents < req.AmountCents+req.TipCents {
			return nil, false, errs.New(errs.CodePreconditionFailed,
				"tendered %d is less than amount plus tip %d", req.TenderedCents, req.AmountCents+req.TipCents)
		}
	}

	// A key seen before answers from its row; a failed attempt replays its
	// decline. Either way no second authorize happens.
	if prior, err := s.repo.GetByKey(ctx, orgID, key); err == nil {
		if prior.Status == StatusFailed {
			return nil, false, declineOf(prior)
		}
		return prior, true, nil
	} else if !errs.HasCode(err, errs.CodeNotFound) {
		return nil, false, err
	}

	o, err := s.orders.GetByID(ctx, orgID, orderID)
	if err != nil {
		return nil, false, err
	}
	if !order.Payable(o.Status) {
		return nil, false, errs.New(errs.CodePreconditionFailed, "a %s order cannot take payments", o.Status)
	}
	pos, err := s.repo.Position(ctx, orgID, orderID)
	if err != nil {
		return nil, false, err
	}
	if req.AmountCents > pos.DueCents() {
		return nil, false, errs.New(errs.CodeOverpayment, "payment of %d exceeds %d due", req.AmountCents, pos.DueCents())
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:             uuid.New(),
		OrgID:          orgID,
		OrderID:        orderID,
		Method:         req.Method,
		AmountCents:    req.AmountCents,
		TipCents:       req.TipCents,
		Currency:       o.Currency,
		IdempotencyKey: key,
		CreatedBy:      actor.StaffID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.TenderedCents != 0 {
		p.TenderedCents = req.TenderedCents
		p.ChangeCents = req.TenderedCents - req.AmountCents - req.TipCents
	}

	var declined *errs.Error
	if req.Method == MethodCard {
		declined, err = s.authorizeCard(ctx, p, strings.TrimSpace(req.CardToken))
		if err != nil {
			return nil, false, err
		}
	} else {
		p.Status = StatusCaptured
		p.CapturedCents = req.AmountCents
	}

	if err := s.repo.Create(ctx, p); err != nil {
		switch {
		case errs.HasCode(err, errs.CodeConflict):
			// Lost the key race. The winner's row is the answer, and the
			// hold this attempt may have placed backs no row, so drop it.
			s.releaseAuth(orgID, p)
			if winner, gerr := s.repo.GetByKey(ctx, orgID, key); gerr == nil {
				if winner.Status == StatusFailed {
					return nil, false, declineOf(winner)
				}
				return winner, true, nil
			}
			return nil, false, err
		case errs.HasCode(err, errs.CodeOverpayment):
			// A concurrent tender took the remaining due first.
			s.releaseAuth(orgID, p)
			return nil, false, err
		default:
			s.releaseAuth(orgID, p)
			return nil, false, err
		}
	}

	if declined != nil {
		s.audit(ctx, orgID, p, actor, "payment.failed", fmt.Sprintf("%s: %s", p.ErrorCode, p.ErrorMessage))
		return nil, false, declined
	}

	s.audit(ctx, orgID, p, actor, "payment.created",
		fmt.Sprintf("%s %s, amount %d %s", p.Method, p.Status, p.AmountCents, p.Currency))
	return p, false, nil
}

func (s *service) Get(ctx context.Context, orgID, id uuid.UUID) (*Payment, error) {
	return s.repo.GetByID(ctx, orgID, id)
}

func (s *service) ListByOrder(ctx context.Context, orgID, orderID uuid.UUID) ([]*Payment, error) {
	return s.repo.ListByOrder(ctx, orgID, orderID)
}

func (s *service) Capture(ctx context.Context, orgID, id uuid.UUID, actor order.Actor, req CapturePaymentRequest) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusCaptured {
		return p, nil
	}
	if p.Status != StatusAuthorized {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot capture a %s payment", p.Status)
	}
	if req.AmountCents < 0 {
		return nil, errs.New(errs.CodePreconditionFailed, "capture amount cannot be negative")
	}
	amount := req.AmountCents
	if amount == 0 {
		amount = p.AmountCents
	}

	captured := amount
	if p.ProviderRef != "" {
		provider, err := s.providers.Get(p.Provider)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, err, "card provider unavailable")
		}
		cctx, cancel := context.WithTimeout(ctx, s.pol.ProviderTimeout)
		defer cancel()
		captured, err = provider.Capture(cctx, p.ProviderRef, amount)
		if err != nil {
			// The row stays AUTHORIZED; nothing moved.
			return nil, providerFailure(err, "capture")
		}
	}

	out, err := s.repo.MarkCaptured(ctx, orgID, id, captured)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, orgID, out, actor, "payment.captured",
		fmt.Sprintf("captured %d %s", out.CapturedCents, out.Currency))
	return out, nil
}

func (s *service) Void(ctx context.Context, orgID, id uuid.UUID, actor order.Actor, req VoidPaymentRequest) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusVoided {
		return p, nil
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) < minReasonLen {
		return nil, errs.New(errs.CodePreconditionFailed, "void reason must be at least %d characters", minReasonLen)
	}
	if p.Status != StatusPending && p.Status != StatusAuthorized {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot void a %s payment", p.Status)
	}

	if p.Status == StatusAuthorized && p.ProviderRef != "" {
		provider, err := s.providers.Get(p.Provider)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, err, "card provider unavailable")
		}
		vctx, cancel := context.WithTimeout(ctx, s.pol.ProviderTimeout)
		defer cancel()
		if err := provider.Void(vctx, p.ProviderRef); err != nil {
			return nil, providerFailure(err, "void")
		}
	}

	out, err := s.repo.MarkVoided(ctx, orgID, id, reason)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, orgID, out, actor, "payment.voided", reason)
	return out, nil
}

func (s *service) Refund(ctx context.Context, orgID, id uuid.UUID, actor order.Actor, req RefundPaymentRequest) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) < minReasonLen {
		return nil, errs.New(errs.CodePreconditionFailed, "refund reason must be at least %d characters", minReasonLen)
	}
	if req.AmountCents <= 0 {
		return nil, errs.New(errs.CodePreconditionFailed, "refund amount must be positive")
	}
	if p.Status != StatusCaptured {
		return nil, errs.New(errs.CodeInvalidTransition, "cannot refund a %s payment", p.Status)
	}
	if req.AmountCents > p.RemainingCents() {
		return nil, errs.New(errs.CodeRefundExceedsRemaining,
			"refund of %d exceeds remaining %d", req.AmountCents, p.RemainingCents())
	}

	refundRef := ""
	if p.ProviderRef != "" {
		provider, err := s.providers.Get(p.Provider)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, err, "card provider unavailable")
		}
		rctx, cancel := context.WithTimeout(ctx, s.pol.ProviderTimeout)
		defer cancel()
		refund, err := provider.Refund(rctx, p.ProviderRef, req.AmountCents)
		if err != nil {
			return nil, providerFailure(err, "refund")
		}
		refundRef = refund.RefundID
	}

	out, err := s.repo.ApplyRefund(ctx, orgID, id, req.AmountCents, reason, refundRef)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, orgID, out, actor, "payment.refunded",
		fmt.Sprintf("refunded %d of %d %s: %s", out.RefundedCents, out.CapturedCents, out.Currency, reason))
	return out, nil
}

func (s *service) Summarize(ctx context.Context, orgID, orderID uuid.UUID) (*order.PaymentSummary, error) {
	pos, err := s.repo.Position(ctx, orgID, orderID)
	if err != nil {
		return nil, err
	}
	due := pos.OrderTotalCents - pos.PaidCents
	if due < 0 {
		due = 0
	}
	return &order.PaymentSummary{
		PaidCents: pos.PaidCents,
		TipsCents: pos.TipsCents,
		DueCents:  due,
		Status:    order.DerivePaymentStatus(pos.OrderTotalCents, pos.PaidCents, pos.HasRefund),
	}, nil
}

// ── Internals ────────────────────────────────────────────────────────────────

// authorizeCard places the hold. A decline or timeout is not a fault here:
// the payment turns into a FAILED record and the decline travels back to the
// caller after the row lands.
func (s *service) authorizeCard(ctx context.Context, p *Payment, token string) (*errs.Error, error) {
	provider, err := s.providers.Get(s.pol.CardProvider)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "card provider unavailable")
	}
	p.Provider = provider.Name()

	actx, cancel := context.WithTimeout(ctx, s.pol.ProviderTimeout)
	defer cancel()

	authID, err := provider.Authorize(actx, p.AmountCents, token, p.Currency)
	if err == nil {
		p.Status = StatusAuthorized
		p.ProviderRef = authID
		return nil, nil
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		p.Status = StatusFailed
		p.ErrorCode = perr.Code
		p.ErrorMessage = perr.Message
		return declineOf(p), nil
	}
	if actx.Err() != nil {
		// The outcome is ambiguous at the provider. Recording FAILED keeps
		// the row out of limbo; reconciliation owns the rest.
		p.Status = StatusFailed
		p.ErrorCode = ErrCodeProviderTimeout
		p.ErrorMessage = "card provider did not answer in time"
		return declineOf(p), nil
	}
	return nil, errs.Wrap(errs.CodeInternal, err, "authorize failed")
}

// releaseAuth drops a hold whose payment row never landed.
func (s *service) releaseAuth(orgID uuid.UUID, p *Payment) {
	if p.Status != StatusAuthorized || p.ProviderRef == "" {
		return
	}
	provider, err := s.providers.Get(p.Provider)
	if err != nil {
		return
	}
	ref := p.ProviderRef
	s.tasks.Go(orgID, p.OrderID, "payment.release_auth", func(ctx context.Context) error {
		return provider.Void(ctx, ref)
	})
}

func declineOf(p *Payment) *errs.Error {
	e := errs.New(errs.CodeProviderDeclined, "payment declined: %s", p.ErrorMessage)
	e.Detail = p.ErrorCode
	return e
}

// providerFailure re-raises a provider rejection with its code preserved.
func providerFailure(err error, op string) error {
	var perr *ProviderError
	if errors.As(err, &perr) {
		e := errs.New(errs.CodeProviderDeclined, "%s rejected: %s", op, perr.Message)
		e.Detail = perr.Code
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e := errs.New(errs.CodeProviderDeclined, "%s timed out at the provider", op)
		e.Detail = ErrCodeProviderTimeout
		return e
	}
	return errs.Wrap(errs.CodeInternal, err, "%s failed", op)
}

func (s *service) audit(ctx context.Context, orgID uuid.UUID, p *Payment, actor order.Actor, action, detail string) {
	actorID := actor.StaffID
	if err := s.audits.Record(ctx, audit.Entry{
		OrgID:   orgID,
		OrderID: p.OrderID,
		ActorID: &actorID,
		Action:  action,
		Detail:  detail,
	}); err != nil {
		s.log.Warn("audit record failed",
			zap.String("action", action),
			zap.String("payment_id", p.ID.String()),
			zap.Error(err))
	}
}
