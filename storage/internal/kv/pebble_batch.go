package kv

import (
	"github.com/cockroachdb/pebble"

	"github.com/guileen/pglitegate/storage/shared"
)

// PebbleBatch buffers writes in a pebble batch until CommitBatch applies it.
// A closed batch returns its memory to pebble and rejects further writes.
type PebbleBatch struct {
	batch *pebble.Batch
	kv    *PebbleKV
}

func (b *PebbleBatch) Set(key, value []byte) error {
	if b.batch == nil {
		return shared.ErrInvalidBatch
	}
	return b.batch.Set(key, value, nil)
}

func (b *PebbleBatch) Delete(key []byte) error {
	if b.batch == nil {
		return shared.ErrInvalidBatch
	}
	return b.batch.Delete(key, nil)
}

func (b *PebbleBatch) Count() int {
	if b.batch == nil {
		return 0
	}
	return int(b.batch.Count())
}

func (b *PebbleBatch) Reset() {
	if b.batch != nil {
		b.batch.Reset()
	}
}

func (b *PebbleBatch) Close() error {
	if b.batch == nil {
		return nil
	}
	err := b.batch.Close()
	b.batch = nil
	return err
}
