// Package postgresql provides PostgreSQL persistence implementation for
// coordination templates, runs, participants and run state history.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/rouhapp/coordination/pkg/persistence"
	"github.com/rouhapp/coordination/pkg/persistence/sqlbase"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the repositories can
// serve reads outside and inside run transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects, migrates and returns a PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{db: database, logger: logger}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Templates() persistence.TemplateRepository {
	return &TemplateRepository{q: p.db, logger: p.logger}
}

func (p *Persistence) Runs() persistence.RunRepository {
	return &RunRepository{q: p.db, logger: p.logger}
}

func (p *Persistence) Participants() persistence.ParticipantRepository {
	return &ParticipantRepository{q: p.db, logger: p.logger}
}

func (p *Persistence) RunStates() persistence.RunStateRepository {
	return &RunStateRepository{q: p.db, logger: p.logger}
}

// txRepositories serves the Repositories interface against one transaction.
type txRepositories struct {
	tx     *sql.Tx
	logger *slog.Logger
}

func (t *txRepositories) Templates() persistence.TemplateRepository {
	return &TemplateRepository{q: t.tx, logger: t.logger}
}

func (t *txRepositories) Runs() persistence.RunRepository {
	return &RunRepository{q: t.tx, logger: t.logger}
}

func (t *txRepositories) Participants() persistence.ParticipantRepository {
	return &ParticipantRepository{q: t.tx, logger: t.logger}
}

func (t *txRepositories) RunStates() persistence.RunStateRepository {
	return &RunStateRepository{q: t.tx, logger: t.logger}
}

// RunTransaction opens one database transaction and locks the run row with
// SELECT ... FOR UPDATE before invoking fn. Two callers racing to mutate the
// same run serialize on the row lock, so the loser re-reads the winner's
// committed state inside its own transaction.
func (p *Persistence) RunTransaction(ctx context.Context, runID string, fn func(ctx context.Context, tx persistence.Repositories) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return persistence.NewRunError("RunTransaction", runID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	var id string

	// A missing row is fine: createRun locks nothing because the run does
	// not exist yet and its ID is fresh.
	err = tx.QueryRowContext(ctx, "SELECT id FROM runs WHERE id = $1 FOR UPDATE", runID).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()

		return persistence.NewRunError("RunTransaction", runID, fmt.Errorf("failed to lock run row: %w", err))
	}

	err = fn(ctx, &txRepositories{tx: tx, logger: p.logger})
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewRunError("RunTransaction", runID, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}
