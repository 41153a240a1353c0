package postgres

import (
	"fmt"

	"task-router/internal/storage"
)

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	switch cfg := config.(type) {
	case *Config:
		return NewAdapter(cfg)
	case storage.GenericConfig:
		return NewAdapter(&Config{
			Host:     cfg.GetString("host", "localhost"),
			Port:     cfg.GetInt("port", 5432),
			Database: cfg.GetString("database", ""),
			Username: cfg.GetString("username", ""),
			Password: cfg.GetString("password", ""),
			SSLMode:  cfg.GetString("sslmode", "prefer"),
		})
	default:
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage")
	}
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
