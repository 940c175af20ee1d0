package mrt

import (
	"github.com/nestroute/mrtd/std/types/sync_pool"
)

// Allocator provides the storage of record buffers.
type Allocator interface {
	// Alloc returns a zeroed slice of length size.
	Alloc(size int) []byte
	// Free returns storage obtained from Alloc. It must not be used afterwards.
	Free(buf []byte)
}

// HeapAllocator allocates every buffer from the Go heap.
var HeapAllocator Allocator = heapAllocator{}

type heapAllocator struct{}

func (heapAllocator) Alloc(size int) []byte {
	return make([]byte, size)
}

func (heapAllocator) Free([]byte) {}

// PoolAllocator recycles buffers of one size class.
// Requests above the class size fall through to the heap.
type PoolAllocator struct {
	size int
	pool *sync_pool.SyncPool[*[]byte]
}

// NewPoolAllocator creates an allocator recycling buffers of size bytes.
func NewPoolAllocator(size int) *PoolAllocator {
	return &PoolAllocator{
		size: size,
		pool: sync_pool.New(
			func() *[]byte {
				b := make([]byte, size)
				return &b
			},
			func(b *[]byte) {
				clear(*b)
			}),
	}
}

func (p *PoolAllocator) Alloc(size int) []byte {
	if size > p.size {
		return make([]byte, size)
	}
	return (*p.pool.Get())[:size]
}

func (p *PoolAllocator) Free(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}
