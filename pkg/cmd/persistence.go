// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rouhapp/coordination/pkg/persistence"
	"github.com/rouhapp/coordination/pkg/persistence/memory"
	"github.com/rouhapp/coordination/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence adapter from the database URL
// scheme. Postgres URLs get the durable adapter; anything else falls back to
// the in-memory one, which only suits tests and local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return p
	default:
		return memory.NewPersistence()
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "memory"
	}
}
