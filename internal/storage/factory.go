package storage

import (
	"fmt"
	"strconv"

	"task-router/internal/config"
)

// NewStorage creates a storage adapter from application configuration. The
// adapter package for the configured type must be linked in (imported) so
// its factory has registered itself.
func NewStorage(cfg *config.Config) (Storage, error) {
	var storageConfig StorageConfig

	switch cfg.DatabaseType {
	case "sqlite":
		storageConfig = GenericConfig{
			"path": cfg.DatabasePath,
		}

	case "postgres", "postgresql":
		port, _ := strconv.Atoi(cfg.PostgresPort)
		storageConfig = GenericConfig{
			"host":     cfg.PostgresHost,
			"port":     port,
			"database": cfg.PostgresDB,
			"username": cfg.PostgresUser,
			"password": cfg.PostgresPassword,
			"sslmode":  cfg.PostgresSSLMode,
		}
		return Create("postgres", storageConfig)

	case "memory":
		storageConfig = GenericConfig{}

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}

	return Create(cfg.DatabaseType, storageConfig)
}
