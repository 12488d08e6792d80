package ledger

import (
	"errors"
	"fmt"

	"accounts-ledger/pkg/transfer"
)

// Kind is the category reported to callers.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindDependency     Kind = "dependency_error"
	KindInternal       Kind = "internal_error"
)

// Category sentinels. Every *Error matches exactly one of them via errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrDependency     = errors.New("dependency error")
	ErrInternal       = errors.New("internal error")

	// ErrInconsistent marks a withdrawal whose master credit landed without
	// the matching source debit. It always travels inside an internal error.
	ErrInconsistent = errors.New("withdrawal left inconsistent")

	// ErrOutcomeUnknown marks a balance write that failed ambiguously and
	// whose result could not be read back.
	ErrOutcomeUnknown = errors.New("balance write outcome unknown")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindForbidden:
		return ErrForbidden
	case KindNotFound:
		return ErrNotFound
	case KindDependency:
		return ErrDependency
	default:
		return ErrInternal
	}
}

// Error is returned by every Coordinator operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

// Unwrap exposes the category sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func newError(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDependency):
		return KindDependency
	default:
		return KindInternal
	}
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Message
	}
	return "internal error"
}

// IsInconsistent reports whether err signals a half-applied withdrawal.
func IsInconsistent(err error) bool {
	return errors.Is(err, ErrInconsistent)
}

// IsOutcomeUnknown reports whether err carries a write that may have landed.
func IsOutcomeUnknown(err error) bool {
	return errors.Is(err, ErrOutcomeUnknown)
}

// unsettledError carries the write that may have landed. The transient cause
// is not unwrapped, so retry policies treat it as permanent.
type unsettledError struct {
	write transfer.PendingWrite
	cause error
}

func (e *unsettledError) Error() string {
	return fmt.Sprintf("write to account #%d at version %d may have landed: %v",
		e.write.AccountNumber, e.write.ExpectedVersion, e.cause)
}

func (e *unsettledError) Unwrap() error {
	return ErrOutcomeUnknown
}

// unsettledWrite returns the write carried by err, if any.
func unsettledWrite(err error) (*transfer.PendingWrite, bool) {
	var ue *unsettledError
	if errors.As(err, &ue) {
		w := ue.write
		return &w, true
	}
	return nil, false
}
