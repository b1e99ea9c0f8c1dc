package memory

import (
	"context"
	"fmt"

	"github.com/alec-deason/wasm-plugin/domain/errors"
)

// Function is an exported guest function. wazero's api.Function satisfies it.
type Function interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Allocator obtains and releases pinned buffers through the guest's
// allocate and deallocate exports.
type Allocator struct {
	bridge     *Bridge
	allocate   Function
	deallocate Function
	maxSize    uint32
}

// NewAllocator returns an allocator that refuses requests above maxSize bytes.
// A zero maxSize disables the limit.
func NewAllocator(bridge *Bridge, allocate, deallocate Function, maxSize uint32) *Allocator {
	return &Allocator{
		bridge:     bridge,
		allocate:   allocate,
		deallocate: deallocate,
		maxSize:    maxSize,
	}
}

// Acquire allocates size bytes in the guest. The returned buffer must be
// released or handed off on every path.
func (a *Allocator) Acquire(ctx context.Context, size uint32) (*Buffer, error) {
	if size == 0 {
		return &Buffer{alloc: a}, nil
	}
	if a.maxSize > 0 && size > a.maxSize {
		return nil, &errors.MemoryError{
			Operation: "allocate",
			Length:    size,
			Size:      a.bridge.Size(),
			Err:       fmt.Errorf("exceeds maximum message size %d", a.maxSize),
		}
	}

	results, err := a.allocate.Call(ctx, uint64(size))
	if err != nil {
		return nil, &errors.MemoryError{Operation: "allocate", Length: size, Size: a.bridge.Size(), Err: err}
	}
	if len(results) == 0 {
		return nil, &errors.MemoryError{
			Operation: "allocate",
			Length:    size,
			Size:      a.bridge.Size(),
			Err:       fmt.Errorf("allocate returned no results"),
		}
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit
	if ptr == 0 {
		return nil, &errors.MemoryError{
			Operation: "allocate",
			Length:    size,
			Size:      a.bridge.Size(),
			Err:       fmt.Errorf("allocate returned null pointer"),
		}
	}
	return &Buffer{alloc: a, ptr: ptr, length: size}, nil
}

// Adopt takes ownership of a buffer the guest allocated and handed to the host.
func (a *Allocator) Adopt(ptr, length uint32) *Buffer {
	return &Buffer{alloc: a, ptr: ptr, length: length}
}

func (a *Allocator) free(ctx context.Context, ptr, length uint32) error {
	if _, err := a.deallocate.Call(ctx, uint64(ptr), uint64(length)); err != nil {
		return &errors.MemoryError{Operation: "free", Offset: ptr, Length: length, Size: a.bridge.Size(), Err: err}
	}
	return nil
}

// Buffer is a guest allocation owned by the host. Ownership ends either with
// Release, which returns the region to the guest allocator, or with HandOff,
// which transfers it to the guest.
type Buffer struct {
	alloc  *Allocator
	ptr    uint32
	length uint32
	done   bool
}

// Ptr returns the guest offset of the buffer.
func (b *Buffer) Ptr() uint32 {
	return b.ptr
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() uint32 {
	return b.length
}

// Write copies data into the buffer. data must fit.
func (b *Buffer) Write(data []byte) error {
	if uint64(len(data)) > uint64(b.length) {
		return &errors.MemoryError{
			Operation: "write",
			Offset:    b.ptr,
			Length:    uint32(len(data)), //nolint:gosec // G115: bounded by guest address space
			Size:      b.alloc.bridge.Size(),
			Err:       fmt.Errorf("exceeds buffer length %d", b.length),
		}
	}
	return b.alloc.bridge.Write(b.ptr, data)
}

// Bytes copies the buffer contents out of guest memory.
func (b *Buffer) Bytes() ([]byte, error) {
	return b.alloc.bridge.Read(b.ptr, b.length)
}

// HandOff transfers ownership to the guest. Subsequent Release calls are no-ops.
func (b *Buffer) HandOff() (ptr, length uint32) {
	b.done = true
	return b.ptr, b.length
}

// Release frees the buffer. It is idempotent and a no-op for empty or
// handed-off buffers.
func (b *Buffer) Release(ctx context.Context) error {
	if b.done || b.ptr == 0 {
		b.done = true
		return nil
	}
	b.done = true
	return b.alloc.free(ctx, b.ptr, b.length)
}
