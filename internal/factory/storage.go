// Package factory builds the storage and collaborator layers from config.
package factory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/glimmerlabs/glimmer/internal/blob"
	"github.com/glimmerlabs/glimmer/internal/config"
	"github.com/glimmerlabs/glimmer/internal/friendgraph"
	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store"
	"github.com/glimmerlabs/glimmer/internal/store/postgres"
	"github.com/glimmerlabs/glimmer/internal/store/sqlite"
)

// NewStore opens the configured database, applies the schema for the
// embedded driver, and returns the store plus the handle for shutdown.
func NewStore(ctx context.Context, cfg *config.Config) (store.Store, *sql.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		// DDL is IF NOT EXISTS throughout; applying on boot is idempotent
		for _, stmt := range store.PostgresDDLStatements() {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("postgres bootstrap: %w", err)
			}
		}
		return postgres.NewWithDB(db), db, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := sqlite.Bootstrap(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return sqlite.NewWithDB(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}

// NewBlobStore returns the HTTP gateway client when configured, otherwise an
// in-process store.
func NewBlobStore(cfg *config.Config, log zerolog.Logger) blob.Store {
	if cfg.BlobGatewayURL != "" {
		return blob.NewHTTPStore(cfg.BlobGatewayURL)
	}
	log.Warn().Msg("no blob gateway configured; using in-process media store")
	return blob.NewMemoryStore()
}

// NewResolver returns the friend-graph client when configured, otherwise an
// empty static resolver (friends stories will be rejected, public ones work).
func NewResolver(cfg *config.Config, log zerolog.Logger) friendgraph.Resolver {
	if cfg.FriendGraphURL != "" {
		return friendgraph.NewHTTPResolver(cfg.FriendGraphURL)
	}
	log.Warn().Msg("no friend graph configured; friends stories cannot resolve viewers")
	return friendgraph.NewStaticResolver(map[string][]model.Viewer{})
}
