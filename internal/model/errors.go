package model

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when a task is not found
	ErrTaskNotFound = errors.New("task not found")

	ErrMissingTarget        = errors.New("task has no target")
	ErrMissingHost          = errors.New("hostname is required")
	ErrInvalidPort          = errors.New("port must be between 1 and 65535")
	ErrMissingCredentials   = errors.New("username and secret are required for script tasks")
	ErrMissingCommand       = errors.New("command is required for script tasks")
	ErrInvalidIntervalValue = errors.New("interval value must be a positive integer")
	ErrInvalidIntervalUnit  = errors.New("interval unit must be seconds, minutes or hours")
)

// ValidationError is a configuration error rejected before a timer exists
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}
