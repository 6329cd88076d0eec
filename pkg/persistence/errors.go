// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTemplateNotFound indicates a template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrParticipantNotFound indicates a participant was not found by the given identifier.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrRunStateNotFound indicates a run state entry was not found.
	ErrRunStateNotFound = errors.New("run state not found")

	// ErrTemplateAlreadyExists indicates a template with the same (name, version) already exists.
	ErrTemplateAlreadyExists = errors.New("template already exists")

	// ErrOpenStateExists indicates a second open state entry would be created
	// for a run that already has one.
	ErrOpenStateExists = errors.New("run already has an open state entry")
)

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op    string // Operation being performed (e.g., "GetByID", "Save", "RunTransaction")
	RunID string // Run ID if applicable
	Err   error  // Underlying error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// IsTemplateNotFound checks if an error indicates a template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsParticipantNotFound checks if an error indicates a participant was not found.
func IsParticipantNotFound(err error) bool {
	return errors.Is(err, ErrParticipantNotFound)
}
