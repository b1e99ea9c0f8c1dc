// Package abi defines the calling-convention contract shared by the host
// runtime and the guest SDK: reserved export names, the ABI generations and
// the fat-pointer packing.
package abi

import "fmt"

const (
	// ExportPrefix marks guest exports that are callable plugin functions.
	ExportPrefix = "wasm_plugin_exported__"

	// MemoryExport is the guest's linear memory.
	MemoryExport = "memory"

	// MessageBufferExport is the i32 global holding the fixed buffer offset (Generation A).
	MessageBufferExport = "MESSAGE_BUFFER"
	// MessageBufferSizeExport optionally overrides the fixed buffer capacity (Generation A).
	MessageBufferSizeExport = "MESSAGE_BUFFER_SIZE"
	// DefaultBufferCapacity is the size of the guest's static message buffer.
	DefaultBufferCapacity = 10 * 1024

	// AllocateExport is the guest allocator, (size i32) -> ptr i32 (Generation B).
	AllocateExport = "allocate"
	// DeallocateExport releases an allocation, (ptr i32, size i32) -> () (Generation B).
	DeallocateExport = "deallocate"

	// InitializeExport is the reactor initialisation entry point.
	InitializeExport = "_initialize"

	// DefaultImportModule is the module name host functions are exported under.
	DefaultImportModule = "env"
	// GetRandomImport fills a guest range with entropy, (ptr i32, len i32) -> ().
	GetRandomImport = "__getrandom"
)

// Generation identifies the calling convention a guest module implements.
type Generation uint8

const (
	// GenerationUnknown means no convention has been detected.
	GenerationUnknown Generation = iota
	// GenerationFixedBuffer passes messages through one static guest buffer.
	GenerationFixedBuffer
	// GenerationFatPointer passes messages through allocated buffers
	// located by packed (length, pointer) integers.
	GenerationFatPointer
)

func (g Generation) String() string {
	switch g {
	case GenerationFixedBuffer:
		return "fixed-buffer"
	case GenerationFatPointer:
		return "fat-pointer"
	case GenerationUnknown:
		return "auto"
	default:
		return "invalid"
	}
}

// ParseGeneration is the inverse of Generation.String. "auto" and the empty
// string map to GenerationUnknown, which asks the host to detect it.
func ParseGeneration(s string) (Generation, error) {
	switch s {
	case "", "auto":
		return GenerationUnknown, nil
	case "fixed-buffer":
		return GenerationFixedBuffer, nil
	case "fat-pointer":
		return GenerationFatPointer, nil
	default:
		return GenerationUnknown, fmt.Errorf("unknown ABI generation %q", s)
	}
}

// LengthShift is the split point of a fat pointer: the byte length occupies
// the bits above it and the linear-memory offset the bits below it.
const LengthShift = 32

// PackPtrLen packs a pointer and length into a single uint64.
// Length is stored in the high 32 bits, pointer in the low 32 bits.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(length)<<LengthShift | uint64(ptr)
}

// UnpackPtrLen unpacks a uint64 into its original pointer and length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed)                    //nolint:gosec // G115: low half is the pointer
	length = uint32(packed >> LengthShift) //nolint:gosec // G115: high half is the length
	return ptr, length
}

// ValidatePacked reports whether a packed value describes a usable message.
// A null pointer is only valid together with a zero length.
func ValidatePacked(packed uint64) error {
	ptr, length := UnpackPtrLen(packed)
	if ptr == 0 && length > 0 {
		return fmt.Errorf("abi: null pointer (0x0) with non-zero length (%d)", length)
	}
	return nil
}
