// Package web provides HTTP request and response types for the coordination API.
package web

import (
	"time"

	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/services"
)

// CreateRunRequest represents the request body for instantiating a template.
type CreateRunRequest struct {
	TemplateID   string                        `json:"template_id"  validate:"required"`
	TenantID     string                        `json:"tenant_id"    validate:"required"`
	InitiatorID  string                        `json:"initiator_id,omitempty"`
	Participants []services.ParticipantRequest `json:"participants,omitempty" validate:"dive"`
	Metadata     map[string]any                `json:"metadata,omitempty"`
}

// AdvanceStateRequest represents the request body for one transition attempt.
// TargetState is optional; when empty the template's transition rules (or
// sequence order) pick the destination.
type AdvanceStateRequest struct {
	TargetState string         `json:"target_state,omitempty"`
	SlotData    map[string]any `json:"slot_data,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AddParticipantRequest represents the request body for enrolling a
// participant mid-run.
type AddParticipantRequest struct {
	RoleName  string         `json:"role_name" validate:"required"`
	AccountID string         `json:"account_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GenerateLinksRequest represents the request body for rotating access links.
type GenerateLinksRequest struct {
	RoleName string `json:"role_name,omitempty"`
}

// JoinRunRequest represents the request body for a guest joining by role.
type JoinRunRequest struct {
	RoleName string `json:"role_name" validate:"required"`
}

// ParticipantResponse exposes a participant without its access token.
type ParticipantResponse struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	RoleName     string         `json:"role_name"`
	AccountID    string         `json:"account_id,omitempty"`
	IsGuest      bool           `json:"is_guest"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LastActiveAt *time.Time     `json:"last_active_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TransformParticipantResponse maps a participant to its API shape.
func TransformParticipantResponse(participant *models.Participant) ParticipantResponse {
	return ParticipantResponse{
		ID:           participant.ID,
		RunID:        participant.RunID,
		RoleName:     participant.RoleName,
		AccountID:    participant.AccountID,
		IsGuest:      participant.IsGuest,
		Metadata:     participant.Metadata,
		LastActiveAt: participant.LastActiveAt,
		CreatedAt:    participant.CreatedAt,
	}
}

// JoinRunResponse carries the resolved participant plus the token the guest
// authenticates with on subsequent calls. This is the only place a token
// leaves the API in a response body.
type JoinRunResponse struct {
	Participant ParticipantResponse `json:"participant"`
	Token       string              `json:"token"`
}
