package sqlite

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
			DatabasePath: cfg.GetString("path", DefaultConfig().DatabasePath),
		})
	default:
		return nil, fmt.Errorf("invalid config type for SQLite storage")
	}
}

func (f *Factory) GetType() string {
	return "sqlite"
}

func init() {
	storage.Register("sqlite", &Factory{})
}
