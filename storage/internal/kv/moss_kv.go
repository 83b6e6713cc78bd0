package kv

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/couchbase/moss"
	"github.com/guileen/pglitegate/storage/shared"
)

// MossConfig holds configuration options for the in-memory moss store
type MossConfig struct {
	MergerIdleRunTimeoutMS int64
	MaxPreMergerBatches    int
}

// DefaultMossConfig creates a default configuration for the moss store
func DefaultMossConfig() *MossConfig {
	return &MossConfig{
		MergerIdleRunTimeoutMS: 50,
		MaxPreMergerBatches:    128,
	}
}

// MossKV keeps all data in a moss collection. It backs ephemeral sessions
// and tests.
type MossKV struct {
	collection moss.Collection
	closed     bool
	mu         sync.RWMutex
}

func NewMossKV(config *MossConfig) (*MossKV, error) {
	collection, err := moss.NewCollection(moss.CollectionOptions{
		MergerIdleRunTimeoutMS: config.MergerIdleRunTimeoutMS,
		MaxPreMergerBatches:    config.MaxPreMergerBatches,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create moss collection: %w", err)
	}
	if err := collection.Start(); err != nil {
		return nil, fmt.Errorf("failed to start moss collection: %w", err)
	}
	return &MossKV{collection: collection}, nil
}

func (m *MossKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, shared.ErrClosed
	}

	value, err := m.collection.Get(key, moss.ReadOptions{})
	if err != nil {
		return nil, fmt.Errorf("moss get: %w", err)
	}
	if value == nil {
		return nil, shared.ErrNotFound
	}
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (m *MossKV) Set(ctx context.Context, key, value []byte) error {
	b := &MossBatch{kv: m}
	_ = b.Set(key, value)
	return m.CommitBatch(ctx, b)
}

func (m *MossKV) Delete(ctx context.Context, key []byte) error {
	b := &MossBatch{kv: m}
	_ = b.Delete(key)
	return m.CommitBatch(ctx, b)
}

func (m *MossKV) NewBatch() shared.Batch {
	return &MossBatch{kv: m}
}

func (m *MossKV) CommitBatch(ctx context.Context, batch shared.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return shared.ErrClosed
	}

	mb, ok := batch.(*MossBatch)
	if !ok || mb.kv != m {
		return shared.ErrInvalidBatch
	}
	if len(mb.ops) == 0 {
		return nil
	}

	// moss requires unique keys per batch; the last write to a key wins.
	ops := make([]mossOp, 0, len(mb.ops))
	seen := make(map[string]int, len(mb.ops))
	for _, op := range mb.ops {
		if idx, ok := seen[string(op.key)]; ok {
			ops[idx] = op
			continue
		}
		seen[string(op.key)] = len(ops)
		ops = append(ops, op)
	}

	b, err := m.collection.NewBatch(len(ops), mb.size)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	defer b.Close()

	for _, op := range ops {
		if op.del {
			err = b.Del(op.key)
		} else {
			err = b.Set(op.key, op.value)
		}
		if err != nil {
			return fmt.Errorf("moss batch: %w", err)
		}
	}
	if err := m.collection.ExecuteBatch(b, moss.WriteOptions{}); err != nil {
		return fmt.Errorf("moss execute batch: %w", err)
	}
	return nil
}

func (m *MossKV) NewIterator(opts *shared.IteratorOptions) (shared.Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, shared.ErrClosed
	}

	ss, err := m.collection.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to take snapshot: %w", err)
	}
	it := &MossIterator{ss: ss}
	if opts != nil {
		it.lower = opts.LowerBound
		it.upper = opts.UpperBound
	}
	return it, nil
}

func (m *MossKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.collection.Close()
}

type mossOp struct {
	key   []byte
	value []byte
	del   bool
}

// MossBatch buffers writes until commit, since moss batches are sized up
// front.
type MossBatch struct {
	kv   *MossKV
	ops  []mossOp
	size int
}

func (b *MossBatch) Set(key, value []byte) error {
	b.ops = append(b.ops, mossOp{key: bytes.Clone(key), value: bytes.Clone(value)})
	b.size += len(key) + len(value)
	return nil
}

func (b *MossBatch) Delete(key []byte) error {
	b.ops = append(b.ops, mossOp{key: bytes.Clone(key), del: true})
	b.size += len(key)
	return nil
}

func (b *MossBatch) Count() int {
	return len(b.ops)
}

func (b *MossBatch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

func (b *MossBatch) Close() error {
	b.ops = nil
	return nil
}
