package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed error surfaced at the HTTP boundary.
type Error struct {
	Status  int
	Code    string
	Err     error
	Details []string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Validation(details ...string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "validation_error", Err: errors.New("invalid request"), Details: details}
}

func Unauthorized(err error) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: "unauthorized", Err: err}
}

func Forbidden(err error) *Error {
	return &Error{Status: http.StatusForbidden, Code: "forbidden", Err: err}
}

func RateLimited(retryAfterSec int) *Error {
	return &Error{
		Status:  http.StatusTooManyRequests,
		Code:    "rate_limited",
		Err:     fmt.Errorf("rate limit exceeded, retry after %ds", retryAfterSec),
		Details: []string{fmt.Sprintf("retry_after=%d", retryAfterSec)},
	}
}

func DeadlineExceeded(err error) *Error {
	return &Error{Status: http.StatusGatewayTimeout, Code: "deadline_exceeded", Err: err}
}

func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: "internal_error", Err: err}
}

func Upstream(err error) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: "upstream_unavailable", Err: err}
}

// kind distinguishes retryable upstream failures from terminal ones.
type kind int

const (
	kindNone kind = iota
	kindTransient
	kindPermanent
)

type kindError struct {
	k   kind
	err error
}

func (e *kindError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *kindError) Unwrap() error { return e.err }

// Transient marks an upstream failure as retryable (rate limit, 5xx, timeout).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{k: kindTransient, err: err}
}

// Permanent marks an upstream failure as terminal (auth, schema, invalid input).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{k: kindPermanent, err: err}
}

func IsTransient(err error) bool {
	var ke *kindError
	return errors.As(err, &ke) && ke.k == kindTransient
}

func IsPermanent(err error) bool {
	var ke *kindError
	return errors.As(err, &ke) && ke.k == kindPermanent
}
