// Package database opens the store.Store selected by STORE_DRIVER.
package database

import (
	"context"
	"fmt"

	"getchat/internal/config"
	"getchat/internal/store"
	"getchat/internal/store/memory"
	"getchat/internal/store/mongo"
	"getchat/internal/store/postgres"

	"go.uber.org/zap"
)

// Open connects to the configured backend. The caller owns Close.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	case "postgres":
		s, err := postgres.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		s, err := mongo.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
