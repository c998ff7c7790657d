// Package apperr defines the error taxonomy shared by the engine, the token
// subsystem and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for propagation and HTTP mapping.
type Kind string

const (
	// KindConfiguration is fatal: missing secrets or provider credentials.
	KindConfiguration Kind = "CONFIGURATION"

	// KindValidation rejects a request before any mutation happens.
	KindValidation Kind = "VALIDATION"

	// KindNotFound covers unknown users and unknown areas.
	KindNotFound Kind = "NOT_FOUND"

	// KindAuthentication covers token verification failures, a 401 that
	// survives the refresh retry and missing linked accounts.
	KindAuthentication Kind = "AUTHENTICATION"

	// KindTransientProvider covers upstream non-2xx and network failures.
	KindTransientProvider Kind = "TRANSIENT_PROVIDER"

	// KindInternal is anything that was not classified.
	KindInternal Kind = "INTERNAL"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Kind)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

func Configuration(op, format string, args ...any) *Error {
	return New(KindConfiguration, op, format, args...)
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

func Authentication(op, format string, args ...any) *Error {
	return New(KindAuthentication, op, format, args...)
}

// KindOf returns the kind of the outermost classified error in the chain,
// or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
