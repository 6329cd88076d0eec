package services

import (
	"context"
	"time"

	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/persistence"
)

// Identity is the authenticated caller of a run-scoped operation.
type Identity struct {
	ParticipantID string
	RunID         string
	TenantID      string
	RoleName      string
	IsGuest       bool
	Metadata      map[string]any
}

type identityContextKey struct{}

// WithIdentity attaches an authenticated identity to the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)

	return identity, ok
}

// Guard authenticates participants by their run-scoped access tokens. Tokens
// are opaque and single-use-until-rotated: a lookup miss means the token was
// never minted or has since been rotated away.
type Guard struct {
	persistence persistence.Persistence
	runs        *Run
}

// NewGuard creates a new guard over the given persistence layer.
func NewGuard(persistence persistence.Persistence, runs *Run) *Guard {
	return &Guard{persistence: persistence, runs: runs}
}

// Authenticate resolves a token within its run and stamps the participant's
// activity time. Both run and token must match; a token from another run
// never authenticates here.
func (g *Guard) Authenticate(ctx context.Context, runID, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	run, err := g.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run == nil {
		return nil, ErrRunNotFound
	}

	participant, err := g.persistence.Participants().GetByToken(ctx, runID, token)
	if err != nil {
		return nil, err
	}

	if participant == nil {
		return nil, ErrInvalidToken
	}

	// Stamp activity without rewriting the row: a full update racing a token
	// rotation would write the pre-rotation token back.
	now := time.Now().UTC()
	if err := g.persistence.Participants().TouchLastActive(ctx, participant.ID, now); err != nil {
		return nil, err
	}

	participant.LastActiveAt = &now

	return &Identity{
		ParticipantID: participant.ID,
		RunID:         runID,
		TenantID:      run.TenantID,
		RoleName:      participant.RoleName,
		IsGuest:       participant.IsGuest,
		Metadata:      participant.Metadata,
	}, nil
}

// ResolveByRoleName authenticates a guest joining through a role link,
// creating the participant on first visit.
func (g *Guard) ResolveByRoleName(ctx context.Context, runID, roleName string) (*models.Participant, error) {
	return g.runs.ResolveGuestByRoleName(ctx, runID, roleName)
}
