// Package errors provides the error taxonomy shared by every core component.
//
// Every error that crosses a component boundary is wrapped with a Kind so
// that boundary code (HTTP handlers, gRPC interceptors — out of scope here)
// can map it to a status code without re-deriving intent from error strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	Internal Kind = iota
	InvalidInput
	Authentication
	Authorization
	NotFound
	AlreadyExists
	PublisherExists
	NoPublisher
	TransientIO
	RedisUnavailable
	ConfigurationError
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case Authentication:
		return "authentication"
	case Authorization:
		return "authorization"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case PublisherExists:
		return "publisher_exists"
	case NoPublisher:
		return "no_publisher"
	case TransientIO:
		return "transient_io"
	case RedisUnavailable:
		return "redis_unavailable"
	case ConfigurationError:
		return "configuration_error"
	default:
		return "internal"
	}
}

// HTTPStatus returns the boundary HTTP status for this kind, per the core's
// error handling design. Handler wiring itself is out of scope; this is the
// one-line mapping boundary code would consume.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput:
		return 400
	case Authentication:
		return 401
	case Authorization:
		return 403
	case NotFound, NoPublisher:
		return 404
	case AlreadyExists, PublisherExists:
		return 409
	default:
		return 500
	}
}

// GRPCCode returns the canonical gRPC status code name for this kind.
func (k Kind) GRPCCode() string {
	switch k {
	case InvalidInput:
		return "InvalidArgument"
	case Authentication:
		return "Unauthenticated"
	case Authorization:
		return "PermissionDenied"
	case NotFound, NoPublisher:
		return "NotFound"
	case AlreadyExists, PublisherExists:
		return "AlreadyExists"
	default:
		return "Internal"
	}
}

// Error wraps an underlying error with a Kind.
type Error struct {
	kind Kind
	op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.op, e.kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.op, e.kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// KindOf returns the classification of err, or Internal if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Internal
}

// Wrap attaches a Kind and an operation name to err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, op: op, err: err}
}

// New constructs a Kind-tagged error without an underlying cause.
func New(kind Kind, op, msg string) error {
	return &Error{kind: kind, op: op, err: errors.New(msg)}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
