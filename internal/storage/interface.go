// Package storage wires routing.Store implementations behind a pluggable
// factory registry. SQLite serves single-node deployments, PostgreSQL serves
// multi-process ones, and the in-memory adapter serves tests and local
// development.
package storage

import (
	"task-router/internal/routing"
)

// Storage is a routing.Store with connection lifecycle management.
type Storage interface {
	routing.Store

	Close() error
	Health() error
}

// StorageConfig abstracts backend-specific connection settings.
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

// StorageFactory creates a storage adapter from its config.
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}

// GenericConfig is a map-based StorageConfig used when the caller builds
// configuration from flat key-value settings. Adapters convert it to their
// own typed config.
type GenericConfig map[string]interface{}

func (gc GenericConfig) Validate() error {
	return nil
}

func (gc GenericConfig) GetType() string {
	if t, ok := gc["type"].(string); ok {
		return t
	}
	return "unknown"
}

func (gc GenericConfig) GetConnectionString() string {
	if cs, ok := gc["connection_string"].(string); ok {
		return cs
	}
	return ""
}

// GetString reads a string key with a default.
func (gc GenericConfig) GetString(key, def string) string {
	if v, ok := gc[key].(string); ok && v != "" {
		return v
	}
	return def
}

// GetInt reads an int key with a default, tolerating float64 from JSON.
func (gc GenericConfig) GetInt(key string, def int) int {
	switch v := gc[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
