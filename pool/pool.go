// Package pool provides typed object pools with usage counters.
package pool

import (
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks pool usage.
type PoolMetrics struct {
	Gets   int64 // Number of Get() operations
	Puts   int64 // Number of Put() operations
	Hits   int64 // Gets served by a pooled object
	Misses int64 // Gets that allocated a new object
}

// Pool is a typed wrapper around sync.Pool. Reset, when set, is applied to
// every object handed back with Put.
type Pool[T any] struct {
	pool  sync.Pool
	name  string
	reset func(T)

	gets   atomic.Int64
	puts   atomic.Int64
	misses atomic.Int64
}

// New creates a pool allocating objects with factory.
func New[T any](name string, factory func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{name: name, reset: reset}
	p.pool.New = func() any {
		p.misses.Add(1)
		return factory()
	}
	return p
}

func (p *Pool[T]) Name() string {
	return p.name
}

// Get retrieves an object from the pool
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil {
		p.reset(obj)
	}
	p.pool.Put(obj)
}

// Metrics returns the current pool metrics
func (p *Pool[T]) Metrics() PoolMetrics {
	gets, misses := p.gets.Load(), p.misses.Load()
	return PoolMetrics{
		Gets:   gets,
		Puts:   p.puts.Load(),
		Hits:   gets - misses,
		Misses: misses,
	}
}
