// Package service is the lane coordination engine: the lane session state
// machine, the selection negotiation protocol, the resource reservation
// engine, the waitlist and the checkout flow. Every mutating operation runs
// in one database transaction and, after commit, broadcasts its targeted
// events followed by a full SESSION_UPDATED snapshot of the lane.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure. Handlers map kinds to status codes.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindPreconditionFailed
	KindConflict
	KindForbidden
	KindInvalid
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal error")
	ErrInvalid            = errors.New("invalid request")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindPreconditionFailed:
		return ErrPreconditionFailed
	case KindConflict:
		return ErrConflict
	case KindForbidden:
		return ErrForbidden
	case KindInvalid:
		return ErrInvalid
	default:
		return ErrInternal
	}
}

func (k Kind) String() string { return k.sentinel().Error() }

// Error is the error type returned by every service operation.
type Error struct {
	Kind     Kind
	Op       string // operation, e.g. "reservation.assign"
	Msg      string
	Guard    string // the violated guard for KindPreconditionFailed
	Resource string // contested resource for KindConflict
	RaceLost bool
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func notFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func precondition(op, guard, msg string) *Error {
	return &Error{Kind: KindPreconditionFailed, Op: op, Guard: guard, Msg: msg}
}

func conflict(op, msg, resource string, raceLost bool) *Error {
	return &Error{Kind: KindConflict, Op: op, Msg: msg, Resource: resource, RaceLost: raceLost}
}

func forbidden(op, msg string) *Error {
	return &Error{Kind: KindForbidden, Op: op, Msg: msg}
}

func invalid(op, msg string) *Error {
	return &Error{Kind: KindInvalid, Op: op, Msg: msg}
}

func internal(op, msg string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Msg: msg, Err: err}
}

// wrap passes *Error values through and marks anything else as internal.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	return internal(op, "", err)
}
