// Package apperr defines the error taxonomy shared by the connection, binding
// and session components. HTTP handlers translate a Kind into a status code or,
// on browser redirect legs, into a reason string.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	InvalidRequest
	Unauthorized
	NotFound
	Conflict
	MissingCredentials
	MissingState
	ProviderExchangeFailed
	TokenExpired
	Unavailable
)

var kindCodes = map[Kind]string{
	Internal:               "internal_error",
	InvalidRequest:         "invalid_request",
	Unauthorized:           "unauthorized",
	NotFound:               "not_found",
	Conflict:               "conflict",
	MissingCredentials:     "missing_credentials",
	MissingState:           "missing_state",
	ProviderExchangeFailed: "provider_exchange_failed",
	TokenExpired:           "token_expired",
	Unavailable:            "unavailable",
}

// Code is the stable machine-readable name of the kind.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[Internal]
}

func (k Kind) String() string { return k.Code() }

// Error carries a Kind, a client-safe message and optional details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == Unavailable
}

// WithDetail returns e after setting a detail key.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
