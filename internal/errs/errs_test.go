package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	base := New(CodeOverpayment, "payment of %d exceeds %d due", 500, 300)
	assert.Equal(t, CodeOverpayment, CodeOf(base))
	assert.Equal(t, "payment of 500 exceeds 300 due", base.Message)

	// The code survives further wrapping by callers.
	wrapped := fmt.Errorf("create payment: %w", base)
	assert.Equal(t, CodeOverpayment, CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, CodeOverpayment))
	assert.False(t, HasCode(wrapped, CodeConflict))

	assert.Equal(t, CodeInternal, CodeOf(errors.New("driver: bad connection")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(CodeInternal, cause, "publish %s event", "order.status")

	assert.Equal(t, "publish order.status event: dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestAsError(t *testing.T) {
	own := New(CodeNotFound, "order not found")
	assert.Same(t, own, AsError(own))

	foreign := AsError(errors.New("pq: relation does not exist"))
	assert.Equal(t, CodeInternal, foreign.Code)
	assert.Equal(t, "internal error", foreign.Message)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(CodeNotFound, "gone"), http.StatusNotFound},
		{New(CodePreconditionFailed, "no items"), http.StatusUnprocessableEntity},
		{New(CodeInvalidTransition, "bad move"), http.StatusConflict},
		{New(CodeOverpayment, "too much"), http.StatusConflict},
		{New(CodeRefundExceedsRemaining, "too much back"), http.StatusConflict},
		{New(CodeConflict, "raced"), http.StatusConflict},
		{New(CodeProviderDeclined, "card declined"), http.StatusPaymentRequired},
		{New(CodeInternal, "boom"), http.StatusInternalServerError},
		{errors.New("anonymous"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(CodeOf(tt.err)), func(t *testing.T) {
			require.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
