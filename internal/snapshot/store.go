// Package snapshot persists the versioned build output. The store is
// single-writer: Replace swaps the whole snapshot atomically so readers
// always see either the previous complete snapshot or the new one.
package snapshot

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/trialops/dqi-engine/internal/model"
)

// Store is the persistence contract for snapshots.
type Store interface {
	// Migrate creates the schema if missing.
	Migrate(ctx context.Context) error

	// Manifest returns the stored snapshot's manifest, or nil when no
	// snapshot exists yet.
	Manifest(ctx context.Context) (*model.Manifest, error)

	// Load reads the full stored snapshot.
	Load(ctx context.Context) (*model.Snapshot, error)

	// Replace atomically swaps the stored snapshot for snap. On any
	// failure the previous snapshot remains intact and serving.
	Replace(ctx context.Context, snap *model.Snapshot) error

	Close() error
}

// Open constructs a store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("snapshot: unknown store driver %q", driver)
	}
}
