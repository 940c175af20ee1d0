// sync_pool is a typed sync.Pool wrapper
package sync_pool

import "sync"

type SyncPool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

// New creates a new SyncPool[T]. reset is applied to every value handed out.
func New[T any](init func() T, reset func(T)) *SyncPool[T] {
	return &SyncPool[T]{
		pool: sync.Pool{
			New: func() any { return init() },
		},
		reset: reset,
	}
}

// Get returns a reset T, either recycled or newly created.
func (p *SyncPool[T]) Get() T {
	val := p.pool.Get().(T)
	if p.reset != nil {
		p.reset(val)
	}
	return val
}

// Put returns val to the pool.
func (p *SyncPool[T]) Put(val T) {
	p.pool.Put(val)
}
