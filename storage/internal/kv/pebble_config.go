package kv

import (
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleConfig holds configuration options for the Pebble KV store
type PebbleConfig struct {
	Path                  string
	FS                    vfs.FS
	CacheSize             int64
	MemTableSize          int
	MaxOpenFiles          int
	CompactionConcurrency int
	BlockSize             int
	L0CompactionThreshold int
	L0StopWritesThreshold int
	CompressionEnabled    bool
	EnableBloomFilter     bool
	BloomFilterBitsPerKey int
	SyncWrites            bool
}

// DefaultPebbleConfig creates a default configuration for Pebble KV store
func DefaultPebbleConfig(path string) *PebbleConfig {
	return &PebbleConfig{
		Path:                  path,
		CacheSize:             128 << 20,
		MemTableSize:          32 << 20,
		MaxOpenFiles:          1000,
		CompactionConcurrency: 2,
		BlockSize:             32 << 10,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 12,
		CompressionEnabled:    true,
		EnableBloomFilter:     true,
		BloomFilterBitsPerKey: 10,
	}
}

// InMemoryPebbleConfig creates a small configuration on an in-memory
// filesystem, used by tests and ephemeral sessions
func InMemoryPebbleConfig() *PebbleConfig {
	cfg := DefaultPebbleConfig("")
	cfg.FS = vfs.NewMem()
	cfg.CacheSize = 8 << 20
	cfg.MemTableSize = 4 << 20
	cfg.CompressionEnabled = false
	return cfg
}
