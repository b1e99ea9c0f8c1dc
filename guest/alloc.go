//go:build wasip1

package guest

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/alec-deason/wasm-plugin/internal/abi"
)

// MaxTotalAllocations caps the bytes the SDK keeps pinned at once.
const MaxTotalAllocations = 100 * 1024 * 1024

// pinned keeps a reference to every live allocation so the Go GC does not
// collect memory the host still addresses by offset.
var pinned = struct {
	sync.Mutex
	ptrs  map[uint32][]byte
	total int
}{
	ptrs: make(map[uint32][]byte),
}

// allocate reserves size bytes and returns their offset. It panics, and so
// traps the call, if the allocation ceiling would be exceeded.
//
//go:wasmexport allocate
func allocate(size uint32) uint32 {
	if size == 0 {
		return 0
	}

	pinned.Lock()
	defer pinned.Unlock()

	if pinned.total+int(size) > MaxTotalAllocations {
		panic(fmt.Sprintf("guest: allocation limit exceeded (requested: %d bytes, current: %d bytes, limit: %d bytes)",
			size, pinned.total, MaxTotalAllocations))
	}

	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0]))) //nolint:gosec // G103,G115: wasm32 linear memory offset

	pinned.ptrs[ptr] = buf
	pinned.total += int(size)
	return ptr
}

// deallocate unpins an allocation. Unknown pointers are ignored, and the
// stored length is used for accounting whatever size the caller passes.
//
//go:wasmexport deallocate
func deallocate(ptr uint32, size uint32) {
	pinned.Lock()
	defer pinned.Unlock()

	buf, ok := pinned.ptrs[ptr]
	if !ok {
		return
	}
	delete(pinned.ptrs, ptr)
	pinned.total -= len(buf)
	if pinned.total < 0 {
		pinned.total = 0
	}
}

// FreeAllTracked unpins every live allocation.
func FreeAllTracked() {
	pinned.Lock()
	defer pinned.Unlock()

	clear(pinned.ptrs)
	pinned.total = 0
}

// Allocated returns the number of bytes currently pinned.
func Allocated() int {
	pinned.Lock()
	defer pinned.Unlock()
	return pinned.total
}

// toPacked copies data into a fresh allocation and returns its fat pointer.
// Ownership of the allocation passes to whoever receives the fat pointer.
func toPacked(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	size := uint32(len(data)) //nolint:gosec // G115: wasm32 lengths fit in 32 bits
	ptr := allocate(size)
	copy(view(ptr, size), data)
	return abi.PackPtrLen(ptr, size)
}

// toArgs is toPacked split into the (ptr, len) pair import calls take.
func toArgs(data []byte) (ptr, length uint32) {
	return abi.UnpackPtrLen(toPacked(data))
}

// read copies length bytes at ptr out of linear memory.
func read(ptr, length uint32) []byte {
	if ptr == 0 || length == 0 {
		return nil
	}
	out := make([]byte, length)
	copy(out, view(ptr, length))
	return out
}

func view(ptr, length uint32) []byte {
	//nolint:gosec // G103: linear memory offsets are addresses on wasm32
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}
