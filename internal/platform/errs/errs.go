// Package errs defines the error taxonomy shared across components:
// sentinel errors for the broad categories plus typed wrappers carrying
// entity context, all composable with errors.Is/As via %w wrapping.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the broad failure categories.
var (
	// ErrUnavailable indicates a dependency (log-store, DNS-sink, feed) could
	// not be reached; retryable.
	ErrUnavailable = errors.New("dependency unavailable")
	// ErrRejected indicates a dependency reached but refused the request
	// (4xx other than validation, auth failure); not retryable without
	// operator intervention.
	ErrRejected = errors.New("request rejected")
	// ErrInvalid indicates malformed input (bad event, bad playbook,
	// unparseable feed record).
	ErrInvalid = errors.New("invalid input")
	// ErrConflict indicates a state conflict (duplicate device ID on
	// create, stale high-water-mark).
	ErrConflict = errors.New("conflict")
	// ErrShutdown indicates the component is stopping and no longer
	// accepts work.
	ErrShutdown = errors.New("shutting down")
)

// NotFoundError reports a missing entity by kind and ID.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrInvalid }

// NewNotFound builds a NotFoundError for entity/id.
func NewNotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError reports a state conflict with a human-readable reason.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q conflict: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflict builds a ConflictError.
func NewConflict(entity, id, reason string) error {
	return &ConflictError{Entity: entity, ID: id, Reason: reason}
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is or wraps a ConflictError or ErrConflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) || errors.Is(err, ErrConflict)
}

// IsUnavailable reports whether err is or wraps ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRejected reports whether err is or wraps ErrRejected.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsInvalid reports whether err is or wraps ErrInvalid.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// Wrap attaches a message to err with %w, preserving errors.Is/As chains.
func Wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
