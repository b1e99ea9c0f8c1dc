// Package memory implements the host side of the memory bridge: bounded
// reads and writes of guest linear memory, growth, and scoped ownership of
// buffers allocated by the guest.
//
// Guest memory is relocatable: any call into the guest may grow it. The
// bridge therefore never hands out views into guest memory, only copies,
// and callers must not hold offsets across calls unless they own the
// allocation behind them.
package memory

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/alec-deason/wasm-plugin/domain/errors"
)

// PageSize is the WebAssembly page size in bytes.
const PageSize = 65536

// Memory is the subset of a linear memory the bridge needs.
// wazero's api.Memory satisfies it.
type Memory interface {
	// Size returns the current size in bytes.
	Size() uint32
	// Grow adds deltaPages pages and returns the previous size in pages.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
	// Read returns a view of byteCount bytes at offset.
	Read(offset, byteCount uint32) ([]byte, bool)
	// Write copies v into memory at offset.
	Write(offset uint32, v []byte) bool
}

// Bridge is the only component permitted to mutate guest memory.
type Bridge struct {
	mem Memory
}

// NewBridge wraps mem.
func NewBridge(mem Memory) *Bridge {
	return &Bridge{mem: mem}
}

// Size returns the current memory size in bytes.
func (b *Bridge) Size() uint32 {
	return b.mem.Size()
}

// Read copies length bytes starting at offset out of guest memory.
func (b *Bridge) Read(offset, length uint32) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	view, ok := b.mem.Read(offset, length)
	if !ok {
		return nil, b.rangeError("read", offset, length)
	}
	// Return a copy so the caller owns the slice.
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// Write copies data into guest memory at offset.
func (b *Bridge) Write(offset uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !b.mem.Write(offset, data) {
		return b.rangeError("write", offset, uint32(len(data))) //nolint:gosec // G115: bounded by guest address space
	}
	return nil
}

// Grow adds pages to guest memory and returns the previous size in bytes.
func (b *Bridge) Grow(pages uint32) (uint32, error) {
	prev, ok := b.mem.Grow(pages)
	if !ok {
		return 0, &errors.MemoryError{
			Operation: "grow",
			Length:    pages,
			Size:      b.mem.Size(),
			Err:       fmt.Errorf("cannot grow by %d pages", pages),
		}
	}
	return prev * PageSize, nil
}

// Reserve grows guest memory, if needed, so that [offset, offset+length) is mapped.
func (b *Bridge) Reserve(offset, length uint32) error {
	end := uint64(offset) + uint64(length)
	size := uint64(b.mem.Size())
	if end <= size {
		return nil
	}
	missing := (end - size + PageSize - 1) / PageSize
	if missing > 65536 {
		return b.rangeError("grow", offset, length)
	}
	_, err := b.Grow(uint32(missing))
	return err
}

// Checksum fingerprints the whole of guest memory.
func (b *Bridge) Checksum() uint64 {
	size := b.mem.Size()
	if size == 0 {
		return xxhash.Sum64(nil)
	}
	view, ok := b.mem.Read(0, size)
	if !ok {
		return 0
	}
	return xxhash.Sum64(view)
}

func (b *Bridge) rangeError(op string, offset, length uint32) error {
	return &errors.MemoryError{
		Operation: op,
		Offset:    offset,
		Length:    length,
		Size:      b.mem.Size(),
		Err:       fmt.Errorf("range exceeds memory"),
	}
}
