package reporter

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, file not found, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// GenerationFailureError represents a run where one or more report
// artifacts could not be produced (exit code 1). The pipeline itself
// completed; the failure is in individual formats or writes.
type GenerationFailureError struct {
	Message string
}

func (e *GenerationFailureError) Error() string {
	return fmt.Sprintf("generation failure: %s", e.Message)
}

// NewGenerationFailureError creates a new GenerationFailureError
func NewGenerationFailureError(message string) *GenerationFailureError {
	return &GenerationFailureError{Message: message}
}

// IsGenerationFailureError checks if the error is or wraps a GenerationFailureError
func IsGenerationFailureError(err error) bool {
	var genErr *GenerationFailureError
	return err != nil && errors.As(err, &genErr)
}
