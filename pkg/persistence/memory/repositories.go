package memory

import (
	"context"
	"sort"
	"time"

	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/persistence"
)

type templateRepository struct {
	p *Persistence
}

func (r *templateRepository) Save(_ context.Context, template *models.Template) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, existing := range r.p.templates {
		if existing.ID != template.ID && existing.Name == template.Name && existing.Version == template.Version {
			return persistence.ErrTemplateAlreadyExists
		}
	}

	r.p.templates[template.ID] = template

	return nil
}

func (r *templateRepository) GetByID(_ context.Context, id string) (*models.Template, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	return r.p.templates[id], nil
}

func (r *templateRepository) GetByNameVersion(_ context.Context, name, version string) (*models.Template, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, template := range r.p.templates {
		if template.Name == name && template.Version == version {
			return template, nil
		}
	}

	return nil, nil
}

func (r *templateRepository) List(_ context.Context) ([]*models.Template, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	templates := make([]*models.Template, 0, len(r.p.templates))
	for _, template := range r.p.templates {
		templates = append(templates, template)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})

	return templates, nil
}

func (r *templateRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.templates[id]; !ok {
		return persistence.ErrTemplateNotFound
	}

	delete(r.p.templates, id)

	return nil
}

type runRepository struct {
	p *Persistence
}

func (r *runRepository) Save(_ context.Context, run *models.Run) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.runs[run.ID] = cloneRun(run)

	return nil
}

func (r *runRepository) Update(_ context.Context, run *models.Run) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.runs[run.ID]; !ok {
		return persistence.ErrRunNotFound
	}

	r.p.runs[run.ID] = cloneRun(run)

	return nil
}

func (r *runRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	run, ok := r.p.runs[id]
	if !ok {
		return nil, nil
	}

	return cloneRun(run), nil
}

func (r *runRepository) ListByTenant(_ context.Context, tenantID string) ([]*models.Run, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	runs := make([]*models.Run, 0)

	for _, run := range r.p.runs {
		if run.TenantID == tenantID {
			runs = append(runs, cloneRun(run))
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	return runs, nil
}

func (r *runRepository) ListByStatus(_ context.Context, status models.RunStatus) ([]*models.Run, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	runs := make([]*models.Run, 0)

	for _, run := range r.p.runs {
		if run.Status == status {
			runs = append(runs, cloneRun(run))
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	return runs, nil
}

type participantRepository struct {
	p *Persistence
}

func (r *participantRepository) Save(_ context.Context, participant *models.Participant) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.participants[participant.ID] = cloneParticipant(participant)

	return nil
}

func (r *participantRepository) Update(_ context.Context, participant *models.Participant) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.participants[participant.ID]; !ok {
		return persistence.ErrParticipantNotFound
	}

	r.p.participants[participant.ID] = cloneParticipant(participant)

	return nil
}

// TouchLastActive stamps activity on the stored row only, leaving the token
// untouched even when the caller's copy predates a rotation.
func (r *participantRepository) TouchLastActive(_ context.Context, id string, at time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	participant, ok := r.p.participants[id]
	if !ok {
		return persistence.ErrParticipantNotFound
	}

	updated := cloneParticipant(participant)
	updated.LastActiveAt = &at
	updated.UpdatedAt = at
	r.p.participants[id] = updated

	return nil
}

func (r *participantRepository) GetByID(_ context.Context, id string) (*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	participant, ok := r.p.participants[id]
	if !ok {
		return nil, nil
	}

	return cloneParticipant(participant), nil
}

func (r *participantRepository) GetByToken(_ context.Context, runID, token string) (*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	if token == "" {
		return nil, nil
	}

	for _, participant := range r.p.participants {
		if participant.RunID == runID && participant.AccessToken == token {
			return cloneParticipant(participant), nil
		}
	}

	return nil, nil
}

func (r *participantRepository) GetByRole(_ context.Context, runID, roleName string) (*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var found *models.Participant

	for _, participant := range r.p.participants {
		if participant.RunID != runID || participant.RoleName != roleName {
			continue
		}

		if found == nil || participant.CreatedAt.Before(found.CreatedAt) {
			found = participant
		}
	}

	if found == nil {
		return nil, nil
	}

	return cloneParticipant(found), nil
}

func (r *participantRepository) ListByRun(_ context.Context, runID string) ([]*models.Participant, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	participants := make([]*models.Participant, 0)

	for _, participant := range r.p.participants {
		if participant.RunID == runID {
			participants = append(participants, cloneParticipant(participant))
		}
	}

	sort.Slice(participants, func(i, j int) bool {
		return participants[i].CreatedAt.Before(participants[j].CreatedAt)
	})

	return participants, nil
}

func (r *participantRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.participants[id]; !ok {
		return persistence.ErrParticipantNotFound
	}

	delete(r.p.participants, id)

	return nil
}

type runStateRepository struct {
	p *Persistence
}

func (r *runStateRepository) Save(_ context.Context, state *models.RunState) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if state.ExitedAt == nil {
		for _, existing := range r.p.runStates {
			if existing.RunID == state.RunID && existing.ExitedAt == nil && existing.ID != state.ID {
				return persistence.ErrOpenStateExists
			}
		}
	}

	r.p.runStates[state.ID] = cloneRunState(state)

	return nil
}

func (r *runStateRepository) Update(_ context.Context, state *models.RunState) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.runStates[state.ID]; !ok {
		return persistence.ErrRunStateNotFound
	}

	r.p.runStates[state.ID] = cloneRunState(state)

	return nil
}

func (r *runStateRepository) GetOpenByRun(_ context.Context, runID string) (*models.RunState, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, state := range r.p.runStates {
		if state.RunID == runID && state.ExitedAt == nil {
			return cloneRunState(state), nil
		}
	}

	return nil, nil
}

func (r *runStateRepository) ListByRun(_ context.Context, runID string) ([]*models.RunState, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	states := make([]*models.RunState, 0)

	for _, state := range r.p.runStates {
		if state.RunID == runID {
			states = append(states, cloneRunState(state))
		}
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].EnteredAt.Before(states[j].EnteredAt)
	})

	return states, nil
}
