// Package apperr defines the error taxonomy shared by every store component.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable marks a backend (database or vault) that cannot be reached.
	// It is never fatal; callers degrade to reduced functionality.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrCorrupt marks a stored value that could not be decoded.
	ErrCorrupt = errors.New("corrupt value")

	// ErrSchema marks a failed schema initialization. Fatal.
	ErrSchema = errors.New("schema initialization failed")

	// ErrStorage marks a failed relational operation.
	ErrStorage = errors.New("storage failure")
)

// Storage converts a low-level storage error into an ErrStorage failure.
// The driver error is flattened into the message so it cannot be unwrapped
// by callers.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// Invalid wraps a validation failure as ErrInvalidInput.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
