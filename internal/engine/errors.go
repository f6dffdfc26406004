package engine

import (
	"errors"
	"fmt"
)

// ErrMissingReference is returned when an assessment binding has no reference text.
var ErrMissingReference = errors.New("assessment binding requires a reference text")

// InitError reports a binding the engine refused to construct or configure.
type InitError struct {
	Engine string
	Mode   Mode
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to create %s %s binding: %v", e.Engine, e.Mode, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// RuntimeError reports a cancel or error event from a running binding.
type RuntimeError struct {
	Mode   Mode
	Cancel Cancellation
}

func (e *RuntimeError) Error() string {
	if e.Cancel.Details == "" {
		return fmt.Sprintf("%s recognition canceled: %s (code %d)", e.Mode, e.Cancel.Reason, e.Cancel.Code)
	}
	return fmt.Sprintf("%s recognition canceled: %s (code %d): %s", e.Mode, e.Cancel.Reason, e.Cancel.Code, e.Cancel.Details)
}
