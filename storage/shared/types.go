// Package shared provides shared types and interfaces for the storage module
package shared

import (
	"context"
	"errors"
	"io"
)

// KV defines the interface for ordered key-value storage operations
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	NewBatch() Batch
	CommitBatch(ctx context.Context, batch Batch) error
	NewIterator(opts *IteratorOptions) (Iterator, error)
	Close() error
}

// Batch collects writes that are applied atomically by CommitBatch
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Count() int
	Reset()
	Close() error
}

// IteratorOptions bounds an iterator to [LowerBound, UpperBound)
type IteratorOptions struct {
	LowerBound []byte
	UpperBound []byte
}

// Iterator walks keys in ascending byte order. Key and Value are only valid
// until the next positioning call.
type Iterator interface {
	io.Closer
	First() bool
	SeekGE(key []byte) bool
	Next() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Error() error
}

// Error types
var (
	ErrNotFound     = errors.New("key not found")
	ErrClosed       = errors.New("kv store closed")
	ErrInvalidBatch = errors.New("batch does not belong to this store")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
