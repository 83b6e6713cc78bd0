package config

import (
	"os"
	"strconv"
	"time"
)

// Storage backends understood by GateConfig.StorageBackend.
const (
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// GateConfig holds configuration for the statement gate and the storage it
// drives.
type GateConfig struct {
	// Rows requested per remote read operation.
	PrefetchLimit int
	// Maximum number of row identifiers sent in one outer operation when a
	// nested index lookup is active.
	YbctidBatchSize int
	// Launch the next page request while the caller drains the current one.
	PrefetchEnabled bool
	// Emit the deprecated flat column reference list next to the typed one.
	LegacyColumnRefs bool
	// Deadline applied to every remote operation.
	RPCTimeout time.Duration

	StorageBackend string
	DataDir        string
	DatabaseOID    uint32
}

// DefaultGateConfig returns the default gate configuration
func DefaultGateConfig() GateConfig {
	return GateConfig{
		PrefetchLimit:    1024,
		YbctidBatchSize:  1024,
		PrefetchEnabled:  false,
		LegacyColumnRefs: false,
		RPCTimeout:       60 * time.Second,
		StorageBackend:   BackendPebble,
		DataDir:          "/tmp/pglitegate",
		DatabaseOID:      16384,
	}
}

// LoadGateConfig loads configuration from environment variables
func LoadGateConfig() GateConfig {
	config := DefaultGateConfig()

	if limitStr := os.Getenv("GATE_PREFETCH_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			config.PrefetchLimit = limit
		}
	}

	if batchStr := os.Getenv("GATE_YBCTID_BATCH_SIZE"); batchStr != "" {
		if size, err := strconv.Atoi(batchStr); err == nil && size > 0 {
			config.YbctidBatchSize = size
		}
	}

	if prefetchStr := os.Getenv("GATE_PREFETCH_ENABLED"); prefetchStr != "" {
		if enable, err := strconv.ParseBool(prefetchStr); err == nil {
			config.PrefetchEnabled = enable
		}
	}

	if legacyStr := os.Getenv("GATE_LEGACY_COLUMN_REFS"); legacyStr != "" {
		if enable, err := strconv.ParseBool(legacyStr); err == nil {
			config.LegacyColumnRefs = enable
		}
	}

	if timeoutStr := os.Getenv("GATE_RPC_TIMEOUT_MS"); timeoutStr != "" {
		if ms, err := strconv.ParseInt(timeoutStr, 10, 64); err == nil && ms > 0 {
			config.RPCTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	if backend := os.Getenv("GATE_STORAGE_BACKEND"); backend == BackendPebble || backend == BackendMemory {
		config.StorageBackend = backend
	}

	if dir := os.Getenv("GATE_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}

	if oidStr := os.Getenv("GATE_DATABASE_OID"); oidStr != "" {
		if oid, err := strconv.ParseUint(oidStr, 10, 32); err == nil && oid > 0 {
			config.DatabaseOID = uint32(oid)
		}
	}

	return config
}
