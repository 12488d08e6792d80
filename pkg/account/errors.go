package account

import (
	"errors"
	"fmt"
	"strings"
)

// Store operation errors. Backends wrap these with %w so errors.Is keeps working.
var (
	// ErrNotFound is returned when no account matches the requested number
	ErrNotFound = errors.New("account: not found")

	// ErrConflict is returned when inserting an account number that already exists
	ErrConflict = errors.New("account: already exists")

	// ErrValidation is returned when an account record violates a store rule
	ErrValidation = errors.New("account: validation failed")

	// ErrVersionConflict is returned by SetBalance when the stored version
	// no longer matches the expected one
	ErrVersionConflict = errors.New("account: version conflict")

	// ErrStorageUnavailable is returned for transient backend failures
	ErrStorageUnavailable = errors.New("account: storage unavailable")

	// ErrTimeout is returned when a store call exceeds its deadline
	ErrTimeout = errors.New("account: operation timeout")

	// ErrCircuitOpen is returned when the store circuit breaker rejects a call
	ErrCircuitOpen = errors.New("account: circuit breaker open")
)

// IsNotFound checks if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if the error indicates a duplicate account number.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation checks if the error indicates an invalid account record.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsVersionConflict checks if the error indicates a lost compare-and-swap.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsTransient reports whether err is a storage condition worth retrying.
// Not-found and validation errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrVersionConflict):
		return true
	default:
		return false
	}
}

// WrapValidation builds an ErrValidation with a formatted reason.
func WrapValidation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Unavailable wraps a backend error so it is classified as transient.
func Unavailable(backend, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w: %v", backend, operation, ErrStorageUnavailable, err)
}

// ClassifyError returns a short label for the error, used in metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStorageUnavailable):
		return "unavailable"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection"), strings.Contains(msg, "dial"):
		return "connection"
	case strings.Contains(msg, "marshal"), strings.Contains(msg, "decode"):
		return "serialization"
	default:
		return "other"
	}
}
