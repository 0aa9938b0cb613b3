package database

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/FaydArshan94/Prodexa-sub000/shared/config"
)

// Open connects to the backend selected by cfg.DocumentStore and scopes its
// collections by cfg.StoreNamespace. Postgres migrations are applied before
// the connection is returned.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (Database, error) {
	db, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return Namespace(db, cfg.StoreNamespace), nil
}

func open(ctx context.Context, cfg *config.Config, logger *log.Logger) (Database, error) {
	switch cfg.DocumentStore {
	case config.StoreMemory:
		logger.Warn("using in-memory document store, data is lost on restart")
		return NewMemoryDB(), nil
	case config.StorePostgres:
		if err := RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		return NewPostgresDB(ctx, cfg.DatabaseURL)
	case config.StoreMongo:
		return NewMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.StoreBadger:
		return NewBadgerDB(cfg.BadgerDir, logger)
	default:
		return nil, fmt.Errorf("unsupported document store: %s (supported: memory, postgres, mongo, badger)", cfg.DocumentStore)
	}
}
