package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates a missing or invalid API credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation indicates rejected input at a mutation boundary.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness clash with an existing record.
	ErrConflict = errors.New("conflict")
)
