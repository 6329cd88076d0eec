package models

import "time"

// RunStatus represents the lifecycle state of a coordination run.
type RunStatus string

const (
	RunStatusActive    RunStatus = "active"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
)

// runStatusTransitions is the allowed-source table for status changes.
// Completed and cancelled are terminal.
var runStatusTransitions = map[RunStatus][]RunStatus{
	RunStatusActive:    {RunStatusPaused, RunStatusCompleted, RunStatusCancelled},
	RunStatusPaused:    {RunStatusActive, RunStatusCancelled},
	RunStatusCompleted: {},
	RunStatusCancelled: {},
}

// Run is one live instantiation of a template for one tenant. CurrentState
// always names a state in the template's state list.
type Run struct {
	ID           string         `json:"id"`
	TemplateID   string         `json:"template_id" validate:"required"`
	TenantID     string         `json:"tenant_id"   validate:"required"`
	Status       RunStatus      `json:"status"`
	CurrentState string         `json:"current_state"`
	InitiatorID  string         `json:"initiator_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CancelledAt  *time.Time     `json:"cancelled_at,omitempty"`
}

// CanTransitionTo reports whether the run's status may change to target.
func (r *Run) CanTransitionTo(target RunStatus) bool {
	for _, allowed := range runStatusTransitions[r.Status] {
		if allowed == target {
			return true
		}
	}

	return false
}

// IsTerminal reports whether the run has reached a terminal status.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusCancelled
}
