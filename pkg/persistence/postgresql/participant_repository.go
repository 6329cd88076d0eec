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

// ParticipantRepository handles participant-related database operations.
type ParticipantRepository struct {
	q      querier
	logger *slog.Logger
}

const participantColumns = `
	id
  , run_id
  , role_name
  , account_id
  , is_guest
  , access_token
  , metadata
  , last_active_at
  , created_at
  , updated_at
`

// Save inserts a new participant row.
func (r *ParticipantRepository) Save(ctx context.Context, participant *models.Participant) error {
	now := time.Now().UTC()

	if participant.CreatedAt.IsZero() {
		participant.CreatedAt = now
	}

	participant.UpdatedAt = now

	if participant.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate participant ID: %w", err)
		}

		participant.ID = id.String()
	}

	metadataJSON, err := json.Marshal(participant.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO participants (
			id, run_id, role_name, account_id, is_guest, access_token,
			metadata, last_active_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.q.ExecContext(ctx, query,
		participant.ID, participant.RunID, participant.RoleName,
		nullString(participant.AccountID), participant.IsGuest,
		nullString(participant.AccessToken), metadataJSON,
		participant.LastActiveAt, participant.CreatedAt, participant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save participant: %w", err)
	}

	return nil
}

// Update rewrites the mutable columns of an existing participant. Token
// rotation goes through here: old and new token swap in one write.
func (r *ParticipantRepository) Update(ctx context.Context, participant *models.Participant) error {
	participant.UpdatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(participant.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE participants SET
			access_token = $2,
			metadata = $3,
			last_active_at = $4,
			updated_at = $5
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		participant.ID, nullString(participant.AccessToken), metadataJSON,
		participant.LastActiveAt, participant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrParticipantNotFound
	}

	return nil
}

// TouchLastActive stamps activity time only. It deliberately leaves every
// other column alone so a stamp racing a token rotation cannot resurrect the
// rotated-away token.
func (r *ParticipantRepository) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE participants SET last_active_at = $2, updated_at = $2 WHERE id = $1`

	result, err := r.q.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to stamp participant activity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrParticipantNotFound
	}

	return nil
}

// GetByID returns a participant by its ID, or nil when absent.
func (r *ParticipantRepository) GetByID(ctx context.Context, id string) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`

	return r.scanParticipant(r.q.QueryRowContext(ctx, query, id))
}

// GetByToken matches an access token within one run.
func (r *ParticipantRepository) GetByToken(ctx context.Context, runID, token string) (*models.Participant, error) {
	if token == "" {
		return nil, nil
	}

	query := `SELECT ` + participantColumns + ` FROM participants WHERE run_id = $1 AND access_token = $2`

	return r.scanParticipant(r.q.QueryRowContext(ctx, query, runID, token))
}

// GetByRole returns the earliest-created participant bound to the role.
func (r *ParticipantRepository) GetByRole(ctx context.Context, runID, roleName string) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + `
		FROM participants
		WHERE run_id = $1 AND role_name = $2
		ORDER BY created_at
		LIMIT 1`

	return r.scanParticipant(r.q.QueryRowContext(ctx, query, runID, roleName))
}

// ListByRun returns all participants of a run ordered by creation time.
func (r *ParticipantRepository) ListByRun(ctx context.Context, runID string) ([]*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE run_id = $1 ORDER BY created_at`

	rows, err := r.q.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	participants := make([]*models.Participant, 0)

	for rows.Next() {
		participant, err := r.scanParticipant(rows)
		if err != nil {
			return nil, err
		}

		participants = append(participants, participant)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}

	return participants, nil
}

// Delete removes a participant.
func (r *ParticipantRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, "DELETE FROM participants WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrParticipantNotFound
	}

	return nil
}

func (r *ParticipantRepository) scanParticipant(row rowScanner) (*models.Participant, error) {
	var (
		participant            models.Participant
		accountID, accessToken sql.NullString
		metadataJSON           []byte
	)

	err := row.Scan(
		&participant.ID, &participant.RunID, &participant.RoleName,
		&accountID, &participant.IsGuest, &accessToken, &metadataJSON,
		&participant.LastActiveAt, &participant.CreatedAt, &participant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan participant: %w", err)
	}

	participant.AccountID = accountID.String
	participant.AccessToken = accessToken.String

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &participant.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &participant, nil
}
