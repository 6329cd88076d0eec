// Package memory provides an in-process persistence implementation. It backs
// unit tests and local development, and serializes run mutations with a
// per-run lock plus a full snapshot rollback, matching the transactional
// contract the PostgreSQL adapter provides with row locks.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/persistence"
)

// Persistence implements persistence.Persistence with in-memory maps.
type Persistence struct {
	mu           sync.RWMutex
	templates    map[string]*models.Template
	runs         map[string]*models.Run
	participants map[string]*models.Participant
	runStates    map[string]*models.RunState

	lockMu   sync.Mutex
	runLocks map[string]*sync.Mutex
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		templates:    make(map[string]*models.Template),
		runs:         make(map[string]*models.Run),
		participants: make(map[string]*models.Participant),
		runStates:    make(map[string]*models.RunState),
		runLocks:     make(map[string]*sync.Mutex),
	}
}

func (p *Persistence) Templates() persistence.TemplateRepository {
	return &templateRepository{p: p}
}

func (p *Persistence) Runs() persistence.RunRepository {
	return &runRepository{p: p}
}

func (p *Persistence) Participants() persistence.ParticipantRepository {
	return &participantRepository{p: p}
}

func (p *Persistence) RunStates() persistence.RunStateRepository {
	return &runStateRepository{p: p}
}

// RunTransaction serializes mutations per run. The run's lock is held for the
// whole call; on error all rows belonging to the run are restored from a
// snapshot so the transaction is all-or-nothing. Rows of other runs are left
// untouched, keeping concurrent transactions on different runs independent.
func (p *Persistence) RunTransaction(ctx context.Context, runID string, fn func(ctx context.Context, tx persistence.Repositories) error) error {
	lock := p.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	snapshot := p.snapshotRun(runID)

	err := fn(ctx, p)
	if err != nil {
		p.restoreRun(runID, snapshot)

		return err
	}

	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) runLock(runID string) *sync.Mutex {
	p.lockMu.Lock()
	defer p.lockMu.Unlock()

	lock, ok := p.runLocks[runID]
	if !ok {
		lock = &sync.Mutex{}
		p.runLocks[runID] = lock
	}

	return lock
}

type runSnapshot struct {
	run          *models.Run
	participants map[string]*models.Participant
	runStates    map[string]*models.RunState
}

func (p *Persistence) snapshotRun(runID string) runSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot := runSnapshot{
		participants: make(map[string]*models.Participant),
		runStates:    make(map[string]*models.RunState),
	}

	if run, ok := p.runs[runID]; ok {
		snapshot.run = cloneRun(run)
	}

	for id, participant := range p.participants {
		if participant.RunID == runID {
			snapshot.participants[id] = participant
		}
	}

	for id, state := range p.runStates {
		if state.RunID == runID {
			snapshot.runStates[id] = state
		}
	}

	return snapshot
}

func (p *Persistence) restoreRun(runID string, snapshot runSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snapshot.run != nil {
		p.runs[runID] = snapshot.run
	} else {
		delete(p.runs, runID)
	}

	for id, participant := range p.participants {
		if participant.RunID == runID {
			delete(p.participants, id)
		}
	}

	maps.Copy(p.participants, snapshot.participants)

	for id, state := range p.runStates {
		if state.RunID == runID {
			delete(p.runStates, id)
		}
	}

	maps.Copy(p.runStates, snapshot.runStates)
}

// Stored rows are copied on every read and write so callers never alias the
// maps' values. Templates are immutable after creation and shared as-is.

func cloneRun(r *models.Run) *models.Run {
	clone := *r
	clone.Metadata = maps.Clone(r.Metadata)

	return &clone
}

func cloneParticipant(p *models.Participant) *models.Participant {
	clone := *p
	clone.Metadata = maps.Clone(p.Metadata)

	return &clone
}

func cloneRunState(s *models.RunState) *models.RunState {
	clone := *s
	clone.SlotData = maps.Clone(s.SlotData)

	return &clone
}
