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
	"github.com/lib/pq"

	"github.com/rouhapp/coordination/pkg/models"
	"github.com/rouhapp/coordination/pkg/persistence"
)

// TemplateRepository handles template-related database operations.
type TemplateRepository struct {
	q      querier
	logger *slog.Logger
}

const templateColumns = `
	id
  , name
  , description
  , version
  , is_active
  , roles
  , states
  , slots
  , category
  , complexity
  , tags
  , estimated_duration_hours
  , metadata
  , created_at
  , updated_at
`

// Save inserts or updates a template.
func (r *TemplateRepository) Save(ctx context.Context, template *models.Template) error {
	now := time.Now().UTC()

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	if template.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate template ID: %w", err)
		}

		template.ID = id.String()
	}

	rolesJSON, err := json.Marshal(template.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	statesJSON, err := json.Marshal(template.States)
	if err != nil {
		return fmt.Errorf("failed to marshal states: %w", err)
	}

	slotsJSON, err := json.Marshal(template.Slots)
	if err != nil {
		return fmt.Errorf("failed to marshal slots: %w", err)
	}

	tagsJSON, err := json.Marshal(template.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	metadataJSON, err := json.Marshal(template.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO templates (
			id, name, description, version, is_active, roles, states, slots,
			category, complexity, tags, estimated_duration_hours, metadata,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			category = EXCLUDED.category,
			complexity = EXCLUDED.complexity,
			tags = EXCLUDED.tags,
			estimated_duration_hours = EXCLUDED.estimated_duration_hours,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.q.ExecContext(ctx, query,
		template.ID, template.Name, template.Description, template.Version,
		template.IsActive, rolesJSON, statesJSON, slotsJSON,
		template.Category, template.Complexity, tagsJSON,
		template.EstimatedDurationHours, metadataJSON,
		template.CreatedAt, template.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return persistence.ErrTemplateAlreadyExists
		}

		return fmt.Errorf("failed to save template: %w", err)
	}

	return nil
}

// GetByID returns a template by its ID, or nil when absent.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = $1`

	return r.scanTemplate(r.q.QueryRowContext(ctx, query, id))
}

// GetByNameVersion returns the template with the given name and version, or nil.
func (r *TemplateRepository) GetByNameVersion(ctx context.Context, name, version string) (*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE name = $1 AND version = $2`

	return r.scanTemplate(r.q.QueryRowContext(ctx, query, name, version))
}

// List returns all templates ordered by creation time.
func (r *TemplateRepository) List(ctx context.Context) ([]*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates ORDER BY created_at`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	templates := make([]*models.Template, 0)

	for rows.Next() {
		template, err := r.scanTemplate(rows)
		if err != nil {
			return nil, err
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

// Delete removes a template.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, "DELETE FROM templates WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTemplateNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *TemplateRepository) scanTemplate(row rowScanner) (*models.Template, error) {
	var (
		template                          models.Template
		rolesJSON, statesJSON             []byte
		slotsJSON, tagsJSON, metadataJSON []byte
		estimatedDurationHours            sql.NullInt64
	)

	err := row.Scan(
		&template.ID, &template.Name, &template.Description, &template.Version,
		&template.IsActive, &rolesJSON, &statesJSON, &slotsJSON,
		&template.Category, &template.Complexity, &tagsJSON,
		&estimatedDurationHours, &metadataJSON,
		&template.CreatedAt, &template.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	if err := json.Unmarshal(rolesJSON, &template.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}

	if err := json.Unmarshal(statesJSON, &template.States); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}

	if len(slotsJSON) > 0 {
		if err := json.Unmarshal(slotsJSON, &template.Slots); err != nil {
			return nil, fmt.Errorf("failed to unmarshal slots: %w", err)
		}
	}

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &template.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &template.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if estimatedDurationHours.Valid {
		hours := int(estimatedDurationHours.Int64)
		template.EstimatedDurationHours = &hours
	}

	return &template, nil
}
