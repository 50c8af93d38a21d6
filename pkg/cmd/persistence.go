// Package cmd provides common initialization for the command-line
// binaries: persistence, event bus, registry and collaborator wiring.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/clubflow/clubflow/pkg/persistence"
	"github.com/clubflow/clubflow/pkg/persistence/file"
	"github.com/clubflow/clubflow/pkg/persistence/postgresql"
)

// NewPersistence picks the storage backend from the URL scheme:
// postgres:// selects PostgreSQL, anything else a file tree.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}
