// Package storage provides the public API for the storage module
package storage

import (
	"fmt"
	"path/filepath"

	"github.com/guileen/pglitegate/engine/config"
	"github.com/guileen/pglitegate/storage/internal/kv"
	"github.com/guileen/pglitegate/storage/shared"
)

// KV defines the interface for key-value storage operations
type KV = shared.KV

// Batch defines the interface for batch operations
type Batch = shared.Batch

// IteratorOptions defines options for iterator operations
type IteratorOptions = shared.IteratorOptions

// Iterator defines the interface for iterating over key-value pairs
type Iterator = shared.Iterator

// Error types
var (
	ErrNotFound = shared.ErrNotFound
	ErrClosed   = shared.ErrClosed
)

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return shared.IsNotFound(err)
}

// PebbleConfig holds the configuration for the Pebble KV store
type PebbleConfig = kv.PebbleConfig

// MossConfig holds the configuration for the in-memory moss KV store
type MossConfig = kv.MossConfig

// NewPebbleKV creates a new Pebble-based KV store
func NewPebbleKV(config *PebbleConfig) (KV, error) {
	return kv.NewPebbleKV(config)
}

// DefaultPebbleConfig creates a default configuration for Pebble KV store
func DefaultPebbleConfig(path string) *PebbleConfig {
	return kv.DefaultPebbleConfig(path)
}

// InMemoryPebbleConfig creates a Pebble configuration backed by an in-memory filesystem
func InMemoryPebbleConfig() *PebbleConfig {
	return kv.InMemoryPebbleConfig()
}

// NewMossKV creates a new in-memory moss-based KV store
func NewMossKV(config *MossConfig) (KV, error) {
	return kv.NewMossKV(config)
}

// DefaultMossConfig creates a default configuration for the moss KV store
func DefaultMossConfig() *MossConfig {
	return kv.DefaultMossConfig()
}

// Open opens the KV backend selected by the gate configuration
func Open(cfg *config.GateConfig) (KV, error) {
	switch cfg.StorageBackend {
	case config.BackendPebble:
		return NewPebbleKV(DefaultPebbleConfig(filepath.Join(cfg.DataDir, "kv")))
	case config.BackendMemory:
		return NewMossKV(DefaultMossConfig())
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
