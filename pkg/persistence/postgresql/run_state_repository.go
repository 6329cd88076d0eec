package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/persistence"
)

// RunStateRepository handles run state history database operations.
type RunStateRepository struct {
	q      querier
	logger *slog.Logger
}

const runStateColumns = `
	id
  , run_id
  , state_name
  , slot_data
  , actor_id
  , entered_at
  , exited_at
`

// Save inserts a new history entry. The partial unique index on open entries
// turns a second open row for the same run into ErrOpenStateExists.
func (r *RunStateRepository) Save(ctx context.Context, state *models.RunState) error {
	if state.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run state ID: %w", err)
		}

		state.ID = id.String()
	}

	slotDataJSON, err := json.Marshal(state.SlotData)
	if err != nil {
		return fmt.Errorf("failed to marshal slot data: %w", err)
	}

	query := `
		INSERT INTO run_states (
			id, run_id, state_name, slot_data, actor_id, entered_at, exited_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.q.ExecContext(ctx, query,
		state.ID, state.RunID, state.StateName, slotDataJSON,
		nullString(state.ActorID), state.EnteredAt, state.ExitedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return persistence.ErrOpenStateExists
		}

		return fmt.Errorf("failed to save run state: %w", err)
	}

	return nil
}

// Update rewrites the mutable columns of a history entry (closing it).
func (r *RunStateRepository) Update(ctx context.Context, state *models.RunState) error {
	slotDataJSON, err := json.Marshal(state.SlotData)
	if err != nil {
		return fmt.Errorf("failed to marshal slot data: %w", err)
	}

	query := `
		UPDATE run_states SET
			slot_data = $2,
			exited_at = $3
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query, state.ID, slotDataJSON, state.ExitedAt)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrRunStateNotFound
	}

	return nil
}

// GetOpenByRun returns the run's current (not yet exited) entry, or nil.
func (r *RunStateRepository) GetOpenByRun(ctx context.Context, runID string) (*models.RunState, error) {
	query := `SELECT ` + runStateColumns + ` FROM run_states WHERE run_id = $1 AND exited_at IS NULL`

	return r.scanRunState(r.q.QueryRowContext(ctx, query, runID))
}

// ListByRun returns the run's full history in entry order.
func (r *RunStateRepository) ListByRun(ctx context.Context, runID string) ([]*models.RunState, error) {
	query := `SELECT ` + runStateColumns + ` FROM run_states WHERE run_id = $1 ORDER BY entered_at`

	rows, err := r.q.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run states: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	states := make([]*models.RunState, 0)

	for rows.Next() {
		state, err := r.scanRunState(rows)
		if err != nil {
			return nil, err
		}

		states = append(states, state)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating run states: %w", err)
	}

	return states, nil
}

func (r *RunStateRepository) scanRunState(row rowScanner) (*models.RunState, error) {
	var (
		state        models.RunState
		actorID      sql.NullString
		slotDataJSON []byte
	)

	err := row.Scan(
		&state.ID, &state.RunID, &state.StateName, &slotDataJSON,
		&actorID, &state.EnteredAt, &state.ExitedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan run state: %w", err)
	}

	state.ActorID = actorID.String

	if len(slotDataJSON) > 0 {
		if err := json.Unmarshal(slotDataJSON, &state.SlotData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal slot data: %w", err)
		}
	}

	return &state, nil
}
