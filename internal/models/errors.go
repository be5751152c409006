package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a definition or run id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSlotConflict signals that another dispatcher already claimed the
	// slot. Benign: the loser simply skips the definition.
	ErrSlotConflict = errors.New("slot already claimed")

	// ErrTerminalRun rejects writes to a run in a terminal status.
	ErrTerminalRun = errors.New("run is in a terminal status")
)

// ValidationError rejects a malformed definition or trigger request before
// it can reach the dispatcher.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GeneratorError wraps any failure coming out of the report generator,
// including the executor's own watchdog timeout.
type GeneratorError struct {
	Kind    ReportKind
	Err     error
	Timeout bool
}

func (e *GeneratorError) Error() string {
	if e.Timeout {
		return "timeout"
	}
	return fmt.Sprintf("generator failed for kind %q: %v", e.Kind, e.Err)
}

func (e *GeneratorError) Unwrap() error { return e.Err }
