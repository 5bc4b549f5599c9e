package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is returned for bad input shape or range. Nothing is
	// changed when it is returned.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a referenced template, instance, step
	// or run does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIncompatibleStructure is returned by cross-template duplication
	// when the step type sequences differ.
	ErrIncompatibleStructure = errors.New("incompatible structure")

	// ErrOutOfRange is returned for an invalid queue index.
	ErrOutOfRange = errors.New("index out of range")

	// ErrInvalidOrder is returned when a reorder does not name exactly the
	// existing steps.
	ErrInvalidOrder = errors.New("invalid step order")

	// ErrHandler wraps every failure raised by a step handler.
	ErrHandler = errors.New("handler error")

	// ErrRunNotPending is returned when a run cannot be claimed because it
	// already left the pending state.
	ErrRunNotPending = errors.New("run is not pending")
)

// IncompatibleStructureError names the two step type sequences that do not
// match.
type IncompatibleStructureError struct {
	Source []StepType
	Target []StepType
}

func (e *IncompatibleStructureError) Error() string {
	return fmt.Sprintf("%s: source steps [%s] do not match target steps [%s]",
		ErrIncompatibleStructure, joinTypes(e.Source), joinTypes(e.Target))
}

func (e *IncompatibleStructureError) Is(target error) bool {
	return target == ErrIncompatibleStructure
}

// HandlerError is an opaque failure from a step handler. It is always
// terminal for the run.
type HandlerError struct {
	StepRefID string
	StepType  StepType
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: step %s (%s): %v", ErrHandler, e.StepRefID, e.StepType, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandler, e.Err}
}

func joinTypes(types []StepType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
