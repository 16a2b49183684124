package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidInput     ErrorCode = "invalid_input"
	MissingField     ErrorCode = "missing_field"
	InvalidAmount    ErrorCode = "invalid_amount"
	Unauthorized     ErrorCode = "unauthorized"
	MissingSignature ErrorCode = "missing_signature"
	InvalidSignature ErrorCode = "invalid_signature"
	MalformedEvent   ErrorCode = "malformed_event"
	NotFound         ErrorCode = "not_found"
	UpstreamError    ErrorCode = "upstream_error"
	UpstreamTimeout  ErrorCode = "upstream_timeout"
	InternalError    ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy so the shared sentinel values stay untouched.
func (e *AppError) WithDetails(details string) *AppError {
	c := *e
	c.Details = details
	return &c
}

// HTTPStatus maps the error code onto the response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput, MissingField, InvalidAmount, MissingSignature, MalformedEvent:
		return http.StatusBadRequest
	case Unauthorized, InvalidSignature:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Is matches on code so wrapped copies compare equal to the sentinels.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// As unwraps err into an AppError when one is in the chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Predefined errors for common cases
var (
	ErrUnauthorized     = NewAppError(Unauthorized, "invalid or missing API key")
	ErrMissingSignature = NewAppError(MissingSignature, "missing X-Paystack-Signature header")
	ErrInvalidSignature = NewAppError(InvalidSignature, "invalid webhook signature")
	ErrMalformedEvent   = NewAppError(MalformedEvent, "malformed webhook event")
	ErrInvalidAmount    = NewAppError(InvalidAmount, "amount must be a positive value with at most two decimal places")
	ErrNotFound         = NewAppError(NotFound, "transaction not found")
	ErrUpstreamTimeout  = NewAppError(UpstreamTimeout, "payment processor did not respond in time")
	ErrUpstream         = NewAppError(UpstreamError, "payment processor request failed")
)

// Missing builds a validation failure naming the absent field.
func Missing(field string) *AppError {
	return NewAppErrorf(MissingField, "%s is required", field)
}
