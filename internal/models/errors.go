package models

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrStateConflict is returned when a status transition is not allowed
	// from the record's current state
	ErrStateConflict = errors.New("state conflict")

	// ErrDuplicate is returned when a uniqueness constraint would be violated
	ErrDuplicate = errors.New("already exists")

	// ErrValidation wraps input that fails a domain rule
	ErrValidation = errors.New("validation failed")
)
