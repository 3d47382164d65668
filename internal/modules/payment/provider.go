package payment

import (
	"context"
	"fmt"
	"strings"
)

// Provider error codes surfaced to the till. Real acquirers map their
// response codes onto these; the simulator emits them directly.
const (
	ErrCodeCardDeclined          = "CARD_DECLINED"
	ErrCodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	ErrCodeAmountExceedsAuth     = "AMOUNT_EXCEEDS_AUTH"
	ErrCodeRefundExceedsCaptured = "REFUND_EXCEEDS_CAPTURED"
	ErrCodeUnknownAuth           = "UNKNOWN_AUTH"
	ErrCodeInvalidAuthState      = "INVALID_AUTH_STATE"
	ErrCodeProviderTimeout       = "PROVIDER_TIMEOUT"
)

// ProviderError is a provider-level rejection. It is data, not a fault: the
// payment row records it and the caller gets the code verbatim.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Refund is the provider's answer to a refund call.
type Refund struct {
	RefundID      string
	RefundedCents int64
}

// Provider is the capability set a card acquirer must offer. All four
// operations are retry-safe: repeating a call with the same arguments
// against a reference already in the target state returns the prior result.
type Provider interface {
	Name() string

	// Authorize places a hold and returns the provider's reference for it.
	Authorize(ctx context.Context, amountCents int64, token, currency string) (authID string, err error)

	// Capture settles the hold. A zero amount captures in full; capturing
	// more than was authorized fails with AMOUNT_EXCEEDS_AUTH.
	Capture(ctx context.Context, authID string, amountCents int64) (capturedCents int64, err error)

	// Void releases a hold that has not captured.
	Void(ctx context.Context, authID string) error

	// Refund returns captured money. Refunding beyond the captured balance
	// fails with REFUND_EXCEEDS_CAPTURED.
	Refund(ctx context.Context, authID string, amountCents int64) (*Refund, error)
}

// Registry holds the providers a deployment has configured, by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// Get returns the named provider or an error listing what is configured.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(r.providers))
		for n := range r.providers {
			names = append(names, n)
		}
		return nil, fmt.Errorf("payment provider %q is not configured (have: %s)", name, strings.Join(names, ", "))
	}
	return p, nil
}
