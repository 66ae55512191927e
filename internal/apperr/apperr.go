// Package apperr defines the closed set of error kinds surfaced by the
// service and their HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind int

const (
	// KindStorage covers unavailable backends and failed read/write streams.
	KindStorage Kind = iota
	// KindValidation marks a request rejected before any side effect.
	KindValidation
	// KindNotFound marks an unknown blob id or credential.
	KindNotFound
	// KindStartup marks misconfiguration detected before serving.
	KindStartup
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStartup:
		return "startup"
	default:
		return "storage"
	}
}

// Error carries a kind, the failing operation and a message that is safe to
// show to clients. Err is the internal cause and is never serialized.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a KindValidation error.
func Validation(op, message string) error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// NotFound returns a KindNotFound error.
func NotFound(op, message string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, Message: message, Err: err}
}

// Storage returns a KindStorage error.
func Storage(op, message string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Message: message, Err: err}
}

// Startup returns a KindStartup error.
func Startup(op, message string, err error) error {
	return &Error{Kind: KindStartup, Op: op, Message: message, Err: err}
}

// KindOf reports the kind of err. Errors outside this package are storage errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsValidation reports whether err is a KindValidation error.
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// Message returns the client-facing message of err, or fallback when err
// carries none.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
