package internal

import (
	"sync"
)

// SchemaCache indexes catalog entries by name and by object OID.
type SchemaCache[T any] struct {
	byName sync.Map
	byOID  sync.Map
}

func NewSchemaCache[T any]() *SchemaCache[T] {
	return &SchemaCache[T]{}
}

func (c *SchemaCache[T]) Get(name string) (T, bool) {
	v, ok := c.byName.Load(name)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (c *SchemaCache[T]) GetByOID(oid uint32) (T, bool) {
	v, ok := c.byOID.Load(oid)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (c *SchemaCache[T]) Set(name string, oid uint32, value T) {
	c.byName.Store(name, value)
	c.byOID.Store(oid, value)
}

func (c *SchemaCache[T]) Delete(name string, oid uint32) {
	c.byName.Delete(name)
	c.byOID.Delete(oid)
}

func (c *SchemaCache[T]) Exists(name string) bool {
	_, ok := c.byName.Load(name)
	return ok
}

// Range calls fn for every entry until fn returns false.
func (c *SchemaCache[T]) Range(fn func(oid uint32, value T) bool) {
	c.byOID.Range(func(k, v interface{}) bool {
		return fn(k.(uint32), v.(T))
	})
}
