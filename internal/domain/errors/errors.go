package errors

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies a payout failure class. The set is closed.
type Code string

const (
	CodeBrowserNotAllowed       Code = "BROWSER_NOT_ALLOWED"
	CodeInvalidSecret           Code = "INVALID_SECRET"
	CodeSecretExposed           Code = "SECRET_EXPOSED"
	CodeInvalidDestination      Code = "INVALID_DESTINATION"
	CodeInvalidAmount           Code = "INVALID_AMOUNT"
	CodePerPaymentLimitExceeded Code = "PER_PAYMENT_LIMIT_EXCEEDED"
	CodeHourlyLimitExceeded     Code = "HOURLY_LIMIT_EXCEEDED"
	CodeDailyLimitExceeded      Code = "DAILY_LIMIT_EXCEEDED"
	CodeRateLimitExceeded       Code = "RATE_LIMIT_EXCEEDED"
	CodeInsufficientBalance     Code = "INSUFFICIENT_BALANCE"
	CodeDestinationNotAllowed   Code = "DESTINATION_NOT_ALLOWED"
	CodeInvoiceAmountMismatch   Code = "INVOICE_AMOUNT_MISMATCH"
	CodePaymentFailed           Code = "PAYMENT_FAILED"
	CodeAbortedByCallback       Code = "ABORTED_BY_CALLBACK"
	CodeCallbackTimeout         Code = "CALLBACK_TIMEOUT"
	CodeInternalError           Code = "INTERNAL_ERROR"
)

// AllCodes lists every code in the taxonomy.
var AllCodes = []Code{
	CodeBrowserNotAllowed,
	CodeInvalidSecret,
	CodeSecretExposed,
	CodeInvalidDestination,
	CodeInvalidAmount,
	CodePerPaymentLimitExceeded,
	CodeHourlyLimitExceeded,
	CodeDailyLimitExceeded,
	CodeRateLimitExceeded,
	CodeInsufficientBalance,
	CodeDestinationNotAllowed,
	CodeInvoiceAmountMismatch,
	CodePaymentFailed,
	CodeAbortedByCallback,
	CodeCallbackTimeout,
	CodeInternalError,
}

// ParseCode maps a wire code to a known Code. Unknown values report false.
func ParseCode(s string) (Code, bool) {
	for _, c := range AllCodes {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

var (
	// ErrInsufficientBalance is returned by node adapters when the wallet cannot cover a payment.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnsupportedDestination is returned by node adapters that cannot pay a destination type.
	ErrUnsupportedDestination = errors.New("destination type not supported by node")
	// ErrInvoiceNotFound is returned by invoice stores.
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// PayoutError is the structured failure carried through every payout path.
type PayoutError struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *PayoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PayoutError) Unwrap() error {
	return e.Err
}

// Is matches another *PayoutError by code, so errors.Is(err, New(CodeX, "")) works.
func (e *PayoutError) Is(target error) bool {
	t, ok := target.(*PayoutError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// RetryAfterMs returns the retry hint in milliseconds, zero when absent.
func (e *PayoutError) RetryAfterMs() int64 {
	return e.RetryAfter.Milliseconds()
}

// New creates a PayoutError.
func New(code Code, message string) *PayoutError {
	return &PayoutError{Code: code, Message: message}
}

// Newf creates a PayoutError with a formatted message.
func Newf(code Code, format string, args ...any) *PayoutError {
	return &PayoutError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a PayoutError around an underlying cause.
func Wrap(code Code, message string, err error) *PayoutError {
	return &PayoutError{Code: code, Message: message, Err: err}
}

// WithRetryAfter creates a PayoutError carrying a retry hint.
func WithRetryAfter(code Code, message string, retryAfter time.Duration) *PayoutError {
	return &PayoutError{Code: code, Message: message, RetryAfter: retryAfter}
}

// AsPayoutError extracts a *PayoutError from err's chain, or wraps err with the fallback code.
func AsPayoutError(err error, fallback Code) *PayoutError {
	if err == nil {
		return nil
	}
	var pe *PayoutError
	if errors.As(err, &pe) {
		return pe
	}
	return Wrap(fallback, err.Error(), err)
}

// CodeOf returns the code of a *PayoutError in err's chain, or INTERNAL_ERROR.
func CodeOf(err error) Code {
	var pe *PayoutError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternalError
}

// ValidationError represents a request validation error at the HTTP boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
