package services

import (
	"fmt"
	"time"
)

type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindForbidden        ErrorKind = "forbidden"
	KindInvalidState     ErrorKind = "invalid_state"
	KindValidationFailed ErrorKind = "validation_failed"
	KindConflict         ErrorKind = "conflict"
	KindUpstreamFailure  ErrorKind = "upstream_failure"
	KindRateLimited      ErrorKind = "rate_limited"
)

// Error is the typed failure every service operation returns for caller
// mistakes. Code is stable and machine readable; Field names the offending
// input when there is one.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	// RetryAfter is set on RateLimited errors.
	RetryAfter time.Duration `json:"-"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrValidationFailed = &Error{Kind: KindValidationFailed}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrUpstreamFailure  = &Error{Kind: KindUpstreamFailure}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
)

func notFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func forbidden(code, msg string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: msg}
}

func invalidState(code, msg string) *Error {
	return &Error{Kind: KindInvalidState, Code: code, Message: msg}
}

func validationFailed(field, code, msg string) *Error {
	return &Error{Kind: KindValidationFailed, Code: code, Message: msg, Field: field}
}

func conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func errRequestNotFound(id string) *Error {
	return notFound("REQUEST_NOT_FOUND", fmt.Sprintf("request %s not found", id))
}

var errNotParty = forbidden("NOT_A_PARTY", "caller is neither the requester nor the assigned fulfiller")
