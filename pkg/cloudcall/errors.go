package cloudcall

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies every failure a call can resolve with.
type ErrorKind string

const (
	KindInvalidArguments  ErrorKind = "invalid_arguments"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindNotFound          ErrorKind = "not_found"
	KindRateLimited       ErrorKind = "rate_limited"
	KindConflict          ErrorKind = "conflict"
	KindServerFault       ErrorKind = "server_fault"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindTimeout           ErrorKind = "timeout"
	KindCancelled         ErrorKind = "cancelled"
)

// Error is the single failure type produced by the engine.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Detail     string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}

	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so sentinel kinds match with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, op string, detail string, cause error) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Detail: detail,
		Err:    cause,
	}
}

// Sentinel kinds, usable as errors.Is targets.
var (
	ErrInvalidArguments  = &Error{Kind: KindInvalidArguments}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrServerFault       = &Error{Kind: KindServerFault}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrCancelled         = &Error{Kind: KindCancelled}
)

// Static errors for registration and configuration faults.
var (
	ErrConfigRequired        = errors.New("config is required")
	ErrEndpointRequired      = errors.New("endpoint is required")
	ErrDescriptorNameMissing = errors.New("descriptor name is required")
	ErrDescriptorMethod      = errors.New("descriptor method is invalid")
	ErrDuplicateDescriptor   = errors.New("descriptor already registered")
	ErrDuplicateParamKey     = errors.New("duplicate parameter key")
	ErrUnknownDescriptor     = errors.New("unknown descriptor")
	ErrUnknownFilter         = errors.New("unknown filter")
	ErrUnknownMapper         = errors.New("unknown exception mapper")
	ErrUnknownParser         = errors.New("unknown response parser")
	ErrUnknownResolver       = errors.New("unknown endpoint resolver")
	ErrStatusCheckRequired   = errors.New("status check operation is required")
)

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// KindForStatus is the default mapping from an HTTP status to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindUnauthorized
	case status >= http.StatusInternalServerError:
		return KindServerFault
	default:
		return KindMalformedResponse
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized checks if the error is an unauthorized error.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsRateLimited checks if the error is a rate limit error.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTimeout checks if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled checks if the error is a cancellation error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
