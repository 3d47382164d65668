package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failure. Codes are part of the API contract: clients
// branch on them, so they never change meaning once released.
type Code string

const (
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodePreconditionFailed     Code = "PRECONDITION_FAILED"
	CodeOverpayment            Code = "OVERPAYMENT"
	CodeRefundExceedsRemaining Code = "REFUND_EXCEEDS_REMAINING"
	CodeProviderDeclined       Code = "PROVIDER_DECLINED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeConflict               Code = "CONFLICT"
	CodeInternal               Code = "INTERNAL"
)

// Error carries a stable code next to the human-readable message. Detail
// holds an optional secondary code (e.g. the provider's own decline code)
// that is safe to show to clients.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool { return CodeOf(err) == code }

// AsError normalises any error into an *Error, wrapping foreign errors as
// CodeInternal so handlers never leak raw driver messages with a 500.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// HTTPStatus maps an error's code to its transport status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodePreconditionFailed:
		return http.StatusUnprocessableEntity
	case CodeInvalidTransition, CodeOverpayment, CodeRefundExceedsRemaining, CodeConflict:
		return http.StatusConflict
	case CodeProviderDeclined:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
