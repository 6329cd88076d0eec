package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/persistence"
)

// RunRepository handles run-related database operations.
type RunRepository struct {
	q      querier
	logger *slog.Logger
}

const runColumns = `
	id
  , template_id
  , tenant_id
  , status
  , current_state
  , initiator_id
  , metadata
  , created_at
  , started_at
  , completed_at
  , cancelled_at
`

// Save inserts a new run row.
func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}

		run.ID = id.String()
	}

	metadataJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO runs (
			id, template_id, tenant_id, status, current_state, initiator_id,
			metadata, created_at, started_at, completed_at, cancelled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.q.ExecContext(ctx, query,
		run.ID, run.TemplateID, run.TenantID, run.Status, run.CurrentState,
		nullString(run.InitiatorID), metadataJSON, run.CreatedAt,
		run.StartedAt, run.CompletedAt, run.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// Update rewrites the mutable columns of an existing run row.
func (r *RunRepository) Update(ctx context.Context, run *models.Run) error {
	metadataJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE runs SET
			status = $2,
			current_state = $3,
			metadata = $4,
			started_at = $5,
			completed_at = $6,
			cancelled_at = $7
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		run.ID, run.Status, run.CurrentState, metadataJSON,
		run.StartedAt, run.CompletedAt, run.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrRunNotFound
	}

	return nil
}

// GetByID returns a run by its ID, or nil when absent.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	return r.scanRun(r.q.QueryRowContext(ctx, query, id))
}

// ListByTenant returns all runs for a tenant ordered by creation time.
func (r *RunRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE tenant_id = $1 ORDER BY created_at`

	return r.queryRuns(ctx, query, tenantID)
}

// ListByStatus returns all runs with the given status ordered by creation time.
func (r *RunRepository) ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE status = $1 ORDER BY created_at`

	return r.queryRuns(ctx, query, status)
}

func (r *RunRepository) queryRuns(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) scanRun(row rowScanner) (*models.Run, error) {
	var (
		run          models.Run
		initiatorID  sql.NullString
		metadataJSON []byte
	)

	err := row.Scan(
		&run.ID, &run.TemplateID, &run.TenantID, &run.Status,
		&run.CurrentState, &initiatorID, &metadataJSON, &run.CreatedAt,
		&run.StartedAt, &run.CompletedAt, &run.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.InitiatorID = initiatorID.String

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &run.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
