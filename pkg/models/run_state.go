package models

import "time"

// RunState is one audit row marking a period during which a run occupied a
// template state. The row with a nil ExitedAt is the run's current entry;
// entering a new state closes the previous open row in the same transaction,
// so at most one open row exists per run.
type RunState struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"     validate:"required"`
	StateName string         `json:"state_name" validate:"required"`
	SlotData  map[string]any `json:"slot_data,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	EnteredAt time.Time      `json:"entered_at"`
	ExitedAt  *time.Time     `json:"exited_at,omitempty"`
}

// IsOpen reports whether this is the run's current (not yet exited) entry.
func (s *RunState) IsOpen() bool {
	return s.ExitedAt == nil
}
