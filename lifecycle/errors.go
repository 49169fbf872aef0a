package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the ride id does not exist.
	ErrNotFound = errors.New("ride not found")

	// ErrUnauthorized means the caller's role or identity does not match
	// the requested action.
	ErrUnauthorized = errors.New("not allowed for this caller")

	// ErrInvalidTransition means the ride's current status has no edge to
	// the requested status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidCode means the presented pickup code does not match.
	ErrInvalidCode = errors.New("incorrect pickup code")
)

// ErrRideTaken is the lost-race outcome on accept: the ride existed but was
// no longer pending at write time. It matches ErrInvalidTransition so
// callers can treat it as a precondition failure, but carries a
// user-facing message of its own.
var ErrRideTaken = fmt.Errorf("ride no longer available: %w", ErrInvalidTransition)

// ErrAlreadyRated means the ride's one-time rating was already recorded,
// possibly by a concurrent request.
var ErrAlreadyRated = fmt.Errorf("ride already rated: %w", ErrInvalidTransition)

// ValidationError rejects a malformed creation request before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
