package state

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/swarm/internal/config"
)

// OpenStore opens and migrates the backend selected by cfg.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "", "sqlite":
		store, err = Open(cfg.Path)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("state: postgres driver requires store.dsn or DATABASE_URL")
		}
		store, err = OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("state: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
