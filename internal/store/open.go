package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sudo-init-do/agenthub/internal/config"
	"github.com/sudo-init-do/agenthub/internal/db"
)

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "postgres", "":
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgres(pool), nil
	}
	return nil, eris.Errorf("unknown store driver %q", cfg.Driver)
}
