// Package persistence provides the data storage abstraction for templates,
// runs, participants and run state history.
package persistence

import (
	"context"
	"time"

	"github.com/rouhapp/coordination/pkg/models"
)

// Repositories groups the per-aggregate repositories. The same interface is
// served by the top-level persistence handle and by transactional handles
// inside RunTransaction.
type Repositories interface {
	Templates() TemplateRepository
	Runs() RunRepository
	Participants() ParticipantRepository
	RunStates() RunStateRepository
}

// Persistence is the storage entry point. All mutations touching a single run
// must go through RunTransaction, which serializes them per run.
type Persistence interface {
	Repositories

	// RunTransaction executes fn against transactional repositories with the
	// run row locked for the duration of the call. The transaction commits
	// when fn returns nil and rolls back otherwise, so concurrent advances of
	// the same run observe each other's committed state pointer and never
	// both succeed from the same origin state.
	RunTransaction(ctx context.Context, runID string, fn func(ctx context.Context, tx Repositories) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TemplateRepository stores immutable template definitions. Templates are
// read-only from the run core's perspective and safe to cache.
type TemplateRepository interface {
	Save(ctx context.Context, template *models.Template) error
	// GetByID returns (nil, nil) when no template exists with the given ID.
	GetByID(ctx context.Context, id string) (*models.Template, error)
	GetByNameVersion(ctx context.Context, name, version string) (*models.Template, error)
	List(ctx context.Context) ([]*models.Template, error)
	Delete(ctx context.Context, id string) error
}

// RunRepository stores run rows.
type RunRepository interface {
	Save(ctx context.Context, run *models.Run) error
	Update(ctx context.Context, run *models.Run) error
	// GetByID returns (nil, nil) when no run exists with the given ID.
	GetByID(ctx context.Context, id string) (*models.Run, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Run, error)
	ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error)
}

// ParticipantRepository stores run participants and their access tokens.
type ParticipantRepository interface {
	Save(ctx context.Context, participant *models.Participant) error
	Update(ctx context.Context, participant *models.Participant) error
	// GetByID returns (nil, nil) when no participant exists with the given ID.
	GetByID(ctx context.Context, id string) (*models.Participant, error)
	// GetByToken matches an access token within one run. Returns (nil, nil)
	// when no participant in the run holds the token.
	GetByToken(ctx context.Context, runID, token string) (*models.Participant, error)
	// GetByRole returns the first participant bound to the role in the run,
	// or (nil, nil) when the role is vacant.
	GetByRole(ctx context.Context, runID, roleName string) (*models.Participant, error)
	// TouchLastActive stamps the participant's activity time without touching
	// any other column. Activity stamps race token rotations, so they must
	// never write the token back.
	TouchLastActive(ctx context.Context, id string, at time.Time) error
	ListByRun(ctx context.Context, runID string) ([]*models.Participant, error)
	Delete(ctx context.Context, id string) error
}

// RunStateRepository stores the per-run state history.
type RunStateRepository interface {
	Save(ctx context.Context, state *models.RunState) error
	Update(ctx context.Context, state *models.RunState) error
	// GetOpenByRun returns the run's current (not yet exited) entry, or
	// (nil, nil) when the run has none.
	GetOpenByRun(ctx context.Context, runID string) (*models.RunState, error)
	ListByRun(ctx context.Context, runID string) ([]*models.RunState, error)
}
