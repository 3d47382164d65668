package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simErr(t *testing.T, err error) *ProviderError {
	t.Helper()
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	return perr
}

func TestSimulatorDeclineTokens(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()

	_, err := sim.Authorize(ctx, 5000, TokenDecline, "UGX")
	assert.Equal(t, ErrCodeCardDeclined, simErr(t, err).Code)

	_, err = sim.Authorize(ctx, 5000, TokenInsufficient, "UGX")
	assert.Equal(t, ErrCodeInsufficientFunds, simErr(t, err).Code)
}

func TestSimulatorSlowTokenHonoursDeadline(t *testing.T) {
	sim := NewSimulator()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sim.Authorize(ctx, 5000, TokenSlow, "UGX")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatorCapture(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()

	authID, err := sim.Authorize(ctx, 5000, "tok-visa", "UGX")
	require.NoError(t, err)

	got, err := sim.Capture(ctx, authID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got)

	// A capture retry returns the prior result.
	got, err = sim.Capture(ctx, authID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got)

	other, err := sim.Authorize(ctx, 3000, "tok-visa", "UGX")
	require.NoError(t, err)
	_, err = sim.Capture(ctx, other, 4000)
	assert.Equal(t, ErrCodeAmountExceedsAuth, simErr(t, err).Code)

	_, err = sim.Capture(ctx, "sim-auth-999999", 0)
	assert.Equal(t, ErrCodeUnknownAuth, simErr(t, err).Code)
}

func TestSimulatorVoid(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()

	authID, err := sim.Authorize(ctx, 5000, "tok-visa", "UGX")
	require.NoError(t, err)

	require.NoError(t, sim.Void(ctx, authID))
	require.NoError(t, sim.Void(ctx, authID))

	_, err = sim.Capture(ctx, authID, 0)
	assert.Equal(t, ErrCodeInvalidAuthState, simErr(t, err).Code)
}

func TestSimulatorRefund(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()

	authID, err := sim.Authorize(ctx, 5000, "tok-visa", "UGX")
	require.NoError(t, err)
	_, err = sim.Capture(ctx, authID, 0)
	require.NoError(t, err)

	first, err := sim.Refund(ctx, authID, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), first.RefundedCents)
	assert.Contains(t, first.RefundID, "sim-refund-")

	_, err = sim.Refund(ctx, authID, 4000)
	assert.Equal(t, ErrCodeRefundExceedsCaptured, simErr(t, err).Code)

	rest, err := sim.Refund(ctx, authID, 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), rest.RefundedCents)

	// Retrying the drain returns the prior result instead of failing.
	again, err := sim.Refund(ctx, authID, 3000)
	require.NoError(t, err)
	assert.Equal(t, rest.RefundID, again.RefundID)

	_, err = sim.Refund(ctx, authID, 100)
	assert.Equal(t, ErrCodeInvalidAuthState, simErr(t, err).Code)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(NewSimulator())

	p, err := reg.Get("SIMULATOR")
	require.NoError(t, err)
	assert.Equal(t, "simulator", p.Name())

	_, err = reg.Get("stripe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulator")
}
