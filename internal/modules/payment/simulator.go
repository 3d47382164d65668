package payment

import (
	"context"
	"fmt"
	"sync"
)

// Card tokens the simulator gives deterministic answers for. Any other
// token authorizes successfully. Training mode on the till uses these.
const (
	TokenDecline      = "test-token-decline"
	TokenInsufficient = "test-token-insufficient"
	TokenSlow         = "test-token-slow"
)

type simAuth struct {
	amountCents   int64
	currency      string
	status        Status
	capturedCents int64
	refundedCents int64
	lastRefund    *Refund
}

// Simulator is the in-memory reference acquirer. It keeps the same
// retry-safety contract a real provider must offer, so the service code
// paths are identical either way.
type Simulator struct {
	mu    sync.Mutex
	seq   int64
	auths map[string]*simAuth
}

func NewSimulator() *Simulator {
	return &Simulator{auths: make(map[string]*simAuth)}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Authorize(ctx context.Context, amountCents int64, token, currency string) (string, error) {
	switch token {
	case TokenDecline:
		return "", &ProviderError{Code: ErrCodeCardDeclined, Message: "card declined by issuer"}
	case TokenInsufficient:
		return "", &ProviderError{Code: ErrCodeInsufficientFunds, Message: "insufficient funds on card"}
	case TokenSlow:
		// Simulates an acquirer that never answers; the caller's deadline
		// decides how long that takes.
		<-ctx.Done()
		return "", ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	authID := fmt.Sprintf("sim-auth-%06d", s.seq)
	s.auths[authID] = &simAuth{
		amountCents: amountCents,
		currency:    currency,
		status:      StatusAuthorized,
	}
	return authID, nil
}

func (s *Simulator) Capture(ctx context.Context, authID string, amountCents int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auths[authID]
	if !ok {
		return 0, &ProviderError{Code: ErrCodeUnknownAuth, Message: "no such authorization"}
	}
	if a.status == StatusCaptured {
		return a.capturedCents, nil
	}
	if a.status != StatusAuthorized {
		return 0, &ProviderError{
			Code:    ErrCodeInvalidAuthState,
			Message: fmt.Sprintf("cannot capture a %s authorization", a.status),
		}
	}
	if amountCents == 0 {
		amountCents = a.amountCents
	}
	if amountCents > a.amountCents {
		return 0, &ProviderError{
			Code:    ErrCodeAmountExceedsAuth,
			Message: fmt.Sprintf("capture of %d exceeds authorized %d", amountCents, a.amountCents),
		}
	}
	a.status = StatusCaptured
	a.capturedCents = amountCents
	return amountCents, nil
}

func (s *Simulator) Void(ctx context.Context, authID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auths[authID]
	if !ok {
		return &ProviderError{Code: ErrCodeUnknownAuth, Message: "no such authorization"}
	}
	if a.status == StatusVoided {
		return nil
	}
	if a.status != StatusAuthorized {
		return &ProviderError{
			Code:    ErrCodeInvalidAuthState,
			Message: fmt.Sprintf("cannot void a %s authorization", a.status),
		}
	}
	a.status = StatusVoided
	return nil
}

func (s *Simulator) Refund(ctx context.Context, authID string, amountCents int64) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auths[authID]
	if !ok {
		return nil, &ProviderError{Code: ErrCodeUnknownAuth, Message: "no such authorization"}
	}
	// A repeat of the refund that fully drained the reference is a retry
	// and gets the prior result back.
	if a.status == StatusRefunded && a.lastRefund != nil && a.lastRefund.RefundedCents == amountCents {
		return a.lastRefund, nil
	}
	if a.status != StatusCaptured {
		return nil, &ProviderError{
			Code:    ErrCodeInvalidAuthState,
			Message: fmt.Sprintf("cannot refund a %s authorization", a.status),
		}
	}
	if amountCents > a.capturedCents-a.refundedCents {
		return nil, &ProviderError{
			Code:    ErrCodeRefundExceedsCaptured,
			Message: fmt.Sprintf("refund of %d exceeds refundable %d", amountCents, a.capturedCents-a.refundedCents),
		}
	}

	a.refundedCents += amountCents
	if a.refundedCents >= a.capturedCents {
		a.status = StatusRefunded
	}
	s.seq++
	a.lastRefund = &Refund{
		RefundID:      fmt.Sprintf("sim-refund-%06d", s.seq),
		RefundedCents: amountCents,
	}
	return a.lastRefund, nil
}
