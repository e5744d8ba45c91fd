package model

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is matched by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// InvalidEventError names the field that failed validation.
type InvalidEventError struct {
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidEvent.
func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

func invalid(field, reason string) error {
	return &InvalidEventError{Field: field, Reason: reason}
}
