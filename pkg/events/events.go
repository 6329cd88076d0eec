// Package events defines event types and structures for run lifecycle notifications.
package events

import (
	"time"
)

type EventType string

// Kafka topic for coordination events.
const Topic = "coordination.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

// EventScope selects the fan-out audience for an event.
type EventScope string

const (
	ScopeRun    EventScope = "run"
	ScopeTenant EventScope = "tenant"
)

const (
	// Run lifecycle events.
	RunCreatedEvent   EventType = "run.created"
	RunStartedEvent   EventType = "run.started"
	RunPausedEvent    EventType = "run.paused"
	RunResumedEvent   EventType = "run.resumed"
	RunCancelledEvent EventType = "run.cancelled"
	RunCompletedEvent EventType = "run.completed"

	// State machine events.
	StateChangedEvent EventType = "state.changed"
	StateTimeoutEvent EventType = "state.timeout"

	// Participant events.
	ParticipantAddedEvent   EventType = "participant.added"
	ParticipantRemovedEvent EventType = "participant.removed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Scope     EventScope     `json:"scope"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RunCreated struct {
	BaseEvent

	TemplateID   string   `json:"template_id"`
	InitialState string   `json:"initial_state"`
	Roles        []string `json:"roles,omitempty"`
}

func (e RunCreated) GetType() EventType {
	return RunCreatedEvent
}

// RunStatusChanged covers start/pause/resume/cancel/complete; Type carries
// the specific lifecycle event.
type RunStatusChanged struct {
	BaseEvent

	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

func (e RunStatusChanged) GetType() EventType {
	return e.Type
}

type StateChanged struct {
	BaseEvent

	FromState     string         `json:"from_state"`
	ToState       string         `json:"to_state"`
	ParticipantID string         `json:"participant_id"`
	RoleName      string         `json:"role_name"`
	SlotData      map[string]any `json:"slot_data,omitempty"`
}

func (e StateChanged) GetType() EventType {
	return StateChangedEvent
}

type StateTimeout struct {
	BaseEvent

	StateName      string    `json:"state_name"`
	EnteredAt      time.Time `json:"entered_at"`
	TimeoutMinutes int       `json:"timeout_minutes"`
}

func (e StateTimeout) GetType() EventType {
	return StateTimeoutEvent
}

type ParticipantAdded struct {
	BaseEvent

	ParticipantID string `json:"participant_id"`
	RoleName      string `json:"role_name"`
	IsGuest       bool   `json:"is_guest"`
}

func (e ParticipantAdded) GetType() EventType {
	return ParticipantAddedEvent
}

type ParticipantRemoved struct {
	BaseEvent

	ParticipantID string `json:"participant_id"`
	RoleName      string `json:"role_name"`
}

func (e ParticipantRemoved) GetType() EventType {
	return ParticipantRemovedEvent
}
