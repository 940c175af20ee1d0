package mrt

import (
	"encoding/binary"
	"fmt"
)

// Buffer is an append-only byte buffer with in-place backpatching.
// The first reserved bytes are left blank for the record header.
type Buffer struct {
	alloc  Allocator
	data   []byte // len(data) is the capacity
	length int
	freed  bool
}

// NewBuffer allocates a buffer of the given initial capacity whose logical
// length starts at reserved.
func NewBuffer(alloc Allocator, capacity int, reserved int) *Buffer {
	if alloc == nil {
		alloc = HeapAllocator
	}
	capacity = max(capacity, reserved)
	return &Buffer{
		alloc:  alloc,
		data:   alloc.Alloc(capacity),
		length: reserved,
	}
}

// Len returns the logical length, reserved header included.
func (b *Buffer) Len() int {
	return b.length
}

// Cap returns the allocated capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Bytes returns the written bytes, reserved header included.
// The slice is only valid until the next Append or Free.
func (b *Buffer) Bytes() []byte {
	b.check()
	return b.data[:b.length]
}

// Append copies p to the tail, growing the storage when needed.
func (b *Buffer) Append(p []byte) {
	b.check()
	if len(p) == 0 {
		return
	}

	required := b.length + len(p)
	if required > len(b.data) {
		b.grow(required)
	}

	copy(b.data[b.length:], p)
	b.length = required
}

// grow doubles the capacity, or jumps to required if doubling is not enough.
func (b *Buffer) grow(required int) {
	capacity := len(b.data) * 2
	if required > capacity {
		capacity = required
	}

	data := b.alloc.Alloc(capacity)
	copy(data, b.data[:b.length])
	b.alloc.Free(b.data)
	b.data = data
}

func (b *Buffer) AppendUint8(v uint8) {
	b.Append([]byte{v})
}

func (b *Buffer) AppendUint16(v uint16) {
	var s [2]byte
	binary.BigEndian.PutUint16(s[:], v)
	b.Append(s[:])
}

func (b *Buffer) AppendUint32(v uint32) {
	var s [4]byte
	binary.BigEndian.PutUint32(s[:], v)
	b.Append(s[:])
}

// Patch overwrites already written bytes at off without changing the length.
// Writing outside [0, Len()) is a caller bug and panics.
func (b *Buffer) Patch(off int, p []byte) {
	b.check()
	if off < 0 || off+len(p) > b.length {
		panic(fmt.Sprintf("mrt: patch [%d,%d) outside buffer of length %d", off, off+len(p), b.length))
	}
	copy(b.data[off:], p)
}

func (b *Buffer) PatchUint16(off int, v uint16) {
	var s [2]byte
	binary.BigEndian.PutUint16(s[:], v)
	b.Patch(off, s[:])
}

// Free returns the storage to the allocator. Calling it twice is a no-op.
func (b *Buffer) Free() {
	if b.freed {
		return
	}
	b.alloc.Free(b.data)
	b.data = nil
	b.length = 0
	b.freed = true
}

func (b *Buffer) check() {
	if b.freed {
		panic("mrt: buffer used after free")
	}
}
