package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrAlreadyLocked signals that another delivery run holds the batch lock.
	// It is an expected outcome, not a failure.
	ErrAlreadyLocked = errors.New("batch lock already held")

	ErrQuotaExceeded    = errors.New("storage quota exceeded")
	ErrFreeTierConsumed = errors.New("free message already used")
)
