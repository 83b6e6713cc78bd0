// Package persistence stores catalog definitions in the KV store.
package persistence

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/guileen/pglitegate/codec"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/storage"
)

// Persister handles persistence operations for catalog entities
type Persister struct {
	kv storage.KV
}

// NewPersister creates a new persister
func NewPersister(kv storage.KV) *Persister {
	return &Persister{kv: kv}
}

// Save writes v as JSON under the metadata key kind/name.
func (p *Persister) Save(ctx context.Context, kind, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeCodec, "persistence.Save", "failed to marshal %s %q", kind, name)
	}
	if err := p.kv.Set(ctx, codec.MetaKey(kind, name), data); err != nil {
		return errors.Wrapf(err, errors.ErrCodeStorage, "persistence.Save", "failed to store %s %q", kind, name)
	}
	return nil
}

// Load reads the entity stored under kind/name into v.
func (p *Persister) Load(ctx context.Context, kind, name string, v interface{}) error {
	data, err := p.kv.Get(ctx, codec.MetaKey(kind, name))
	if err != nil {
		if storage.IsNotFound(err) {
			return errors.NewNotFoundf("persistence.Load", "%s %q not found", kind, name)
		}
		return errors.Wrapf(err, errors.ErrCodeStorage, "persistence.Load", "failed to read %s %q", kind, name)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, errors.ErrCodeCodec, "persistence.Load", "failed to unmarshal %s %q", kind, name)
	}
	return nil
}

// Delete removes the entity stored under kind/name.
func (p *Persister) Delete(ctx context.Context, kind, name string) error {
	if err := p.kv.Delete(ctx, codec.MetaKey(kind, name)); err != nil {
		return errors.Wrapf(err, errors.ErrCodeStorage, "persistence.Delete", "failed to delete %s %q", kind, name)
	}
	return nil
}

// Scan calls fn with the raw JSON of every entity of the given kind.
func (p *Persister) Scan(ctx context.Context, kind string, fn func(name string, data []byte) error) error {
	prefix := codec.MetaPrefix(kind)
	iter, err := p.kv.NewIterator(&storage.IteratorOptions{
		LowerBound: prefix,
		UpperBound: codec.PrefixUpperBound(prefix),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "persistence.Scan")
	}
	defer iter.Close()

	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := string(iter.Key()[len(prefix):])
		data := append([]byte(nil), iter.Value()...)
		if err := fn(name, data); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "persistence.Scan")
	}
	return nil
}
