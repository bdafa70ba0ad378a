// Package apperr defines the error kinds shared by the booking, registry and
// scheduler packages. Domain packages wrap these kinds in their own sentinels so
// callers can match on either the specific error or the broad kind.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrDispatch        = errors.New("dispatch failed")
	ErrStore           = errors.New("store unavailable")
)

// Validation returns an error of kind ErrValidation carrying msg.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an error of kind ErrNotFound carrying msg.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict returns an error of kind ErrConflict carrying msg.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Dispatch wraps a notification transport failure.
func Dispatch(err error) error {
	return fmt.Errorf("%w: %v", ErrDispatch, err)
}

// StoreError reports a failure of the durable store during Op.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// Store wraps err as a StoreError. A nil err stays nil.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
