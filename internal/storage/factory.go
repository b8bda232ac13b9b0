// Package storage selects and constructs the credential store backend
// from deployment configuration.
package storage

import (
	"context"

	"credhub/internal/common/errors"
	"credhub/internal/config"
	"credhub/internal/credentials"
	"credhub/internal/crypto"
	"credhub/internal/storage/postgres"
	"credhub/internal/storage/sqlite"
)

// NewStore builds the configured store. The returned close function
// releases the backend's resources; for the memory store it is a no-op.
func NewStore(ctx context.Context, cfg *config.Config, enc *crypto.Encryptor) (credentials.Store, func() error, error) {
	switch cfg.DatabaseType {
	case "memory":
		return credentials.NewMemoryStore(), func() error { return nil }, nil

	case "sqlite":
		store, err := sqlite.NewStore(cfg.DatabasePath, enc)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN(), enc)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, errors.ConfigError("unsupported database type: " + cfg.DatabaseType)
	}
}
