package domain

import "errors"

var (
	// ErrValidation marks input that fails domain validation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation rejected by the current entity state.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition marks a removal state change outside the transition table.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrSuppressed marks a recipient blocked by the suppression list.
	ErrSuppressed = errors.New("recipient suppressed")
)
