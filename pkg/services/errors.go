// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

var (
	// Not found (404).
	ErrTemplateNotFound    = errors.New("template not found")
	ErrRunNotFound         = errors.New("run not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrStateNotFound       = errors.New("state not found")
	ErrRoleNotFound        = errors.New("role not found")

	// Validation errors (400 Bad Request).
	ErrTemplateHasNoStates = errors.New("template has no states")
	ErrTransitionRejected  = errors.New("transition rejected")
	ErrSlotValidation      = errors.New("slot data failed validation")
	ErrRoleNotInTemplate   = errors.New("role does not exist in template")
	ErrInvalidTemplate     = errors.New("invalid template definition")

	// Business logic conflicts (409 Conflict).
	ErrInvalidStatusTransition = errors.New("invalid run status transition")
	ErrRunNotActive            = errors.New("run is not active")

	// Authentication (401 Unauthorized).
	ErrInvalidToken = errors.New("invalid or expired access token")
)

// TransitionError carries the engine's specific rejection so clients can
// present actionable guidance rather than a generic failure.
type TransitionError struct {
	Reason      string // Human-readable unmet rule
	MissingSlot string // Set when a required slot was absent
	DeniedRole  string // Set when a role restriction rejected the actor
}

func (e *TransitionError) Error() string {
	return e.Reason
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrTransitionRejected
}

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsNotFoundError checks if an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrParticipantNotFound) ||
		errors.Is(err, ErrStateNotFound) ||
		errors.Is(err, ErrRoleNotFound)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrTemplateHasNoStates) ||
		errors.Is(err, ErrTransitionRejected) ||
		errors.Is(err, ErrSlotValidation) ||
		errors.Is(err, ErrRoleNotInTemplate) ||
		errors.Is(err, ErrInvalidTemplate)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrRunNotActive)
}

// IsUnauthorizedError checks if an error should map to HTTP 401.
func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}
