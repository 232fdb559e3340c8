package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/asseto/signoff/pkg/persistence"
	"github.com/asseto/signoff/pkg/persistence/file"
	"github.com/asseto/signoff/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence implementation from the database
// URL scheme: postgres for production, anything else falls back to the
// file-based store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic("Failed to initialize PostgreSQL persistence: " + err.Error())
		}

		return store
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)

	return parts[0]
}
