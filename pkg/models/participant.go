package models

import "time"

// Participant is a (run, role) binding for one actor. A participant may be
// linked to a primary account or be a pure guest authenticated only by its
// per-run access token. Tokens are opaque and single-use-until-rotated:
// rotation clears the old token and issues a new one in a single write.
type Participant struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"    validate:"required"`
	RoleName     string         `json:"role_name" validate:"required"`
	AccountID    string         `json:"account_id,omitempty"`
	IsGuest      bool           `json:"is_guest"`
	AccessToken  string         `json:"-"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LastActiveAt *time.Time     `json:"last_active_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
