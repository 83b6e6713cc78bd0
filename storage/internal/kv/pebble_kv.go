package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/guileen/pglitegate/storage/shared"
)

type PebbleKV struct {
	db     *pebble.DB
	closed bool
	mu     sync.RWMutex
	wo     *pebble.WriteOptions
}

func NewPebbleKV(config *PebbleConfig) (*PebbleKV, error) {
	cache := pebble.NewCache(config.CacheSize)
	defer cache.Unref()

	compression := pebble.NoCompression
	if config.CompressionEnabled {
		compression = pebble.SnappyCompression
	}

	opts := &pebble.Options{
		Cache:                       cache,
		FS:                          config.FS,
		MaxOpenFiles:                config.MaxOpenFiles,
		MemTableSize:                uint64(config.MemTableSize),
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       config.L0CompactionThreshold,
		L0StopWritesThreshold:       config.L0StopWritesThreshold,
		MaxConcurrentCompactions:    func() int { return config.CompactionConcurrency },
		Levels: []pebble.LevelOptions{
			{BlockSize: config.BlockSize, Compression: compression},
		},
	}
	if config.EnableBloomFilter {
		for i := range opts.Levels {
			opts.Levels[i].FilterPolicy = bloom.FilterPolicy(config.BloomFilterBitsPerKey)
			opts.Levels[i].FilterType = pebble.TableFilter
		}
	}

	db, err := pebble.Open(config.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	wo := pebble.NoSync
	if config.SyncWrites {
		wo = pebble.Sync
	}
	return &PebbleKV{db: db, wo: wo}, nil
}

func (p *PebbleKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, shared.ErrClosed
	}

	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (p *PebbleKV) Set(ctx context.Context, key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return shared.ErrClosed
	}
	if err := p.db.Set(key, value, p.wo); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (p *PebbleKV) Delete(ctx context.Context, key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return shared.ErrClosed
	}
	if err := p.db.Delete(key, p.wo); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

func (p *PebbleKV) NewBatch() shared.Batch {
	return &PebbleBatch{batch: p.db.NewBatch(), kv: p}
}

func (p *PebbleKV) CommitBatch(ctx context.Context, batch shared.Batch) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return shared.ErrClosed
	}

	pebbleBatch, ok := batch.(*PebbleBatch)
	if !ok || pebbleBatch.kv != p || pebbleBatch.batch == nil {
		return shared.ErrInvalidBatch
	}
	if err := p.db.Apply(pebbleBatch.batch, p.wo); err != nil {
		return fmt.Errorf("pebble apply batch: %w", err)
	}
	return nil
}

func (p *PebbleKV) NewIterator(opts *shared.IteratorOptions) (shared.Iterator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, shared.ErrClosed
	}

	var pebbleOpts *pebble.IterOptions
	if opts != nil {
		pebbleOpts = &pebble.IterOptions{
			LowerBound: opts.LowerBound,
			UpperBound: opts.UpperBound,
		}
	}

	iter, err := p.db.NewIter(pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("pebble iterator: %w", err)
	}
	return &PebbleIterator{iter: iter}, nil
}

func (p *PebbleKV) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
