package host

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/tetratelabs/wazero/api"

	"github.com/alec-deason/wasm-plugin/domain/errors"
	"github.com/alec-deason/wasm-plugin/internal/abi"
	"github.com/alec-deason/wasm-plugin/memory"
)

// direction is the side that initiated a message exchange. The same
// marshaling routines serve both; only buffer ownership differs.
type direction uint8

const (
	// outbound messages flow from a host call into a guest export and back.
	outbound direction = iota
	// inbound messages flow from a guest import call into a host function and back.
	inbound
)

func (d direction) String() string {
	if d == inbound {
		return "inbound"
	}
	return "outbound"
}

// placement is a message written into guest memory and the integers that
// locate it.
type placement struct {
	values []uint64
	// buf is set while the host still owns the region values point at.
	buf *memory.Buffer
}

// release frees a placement the guest never received.
func (p placement) release(ctx context.Context) error {
	if p.buf == nil {
		return nil
	}
	return p.buf.Release(ctx)
}

// handOff passes ownership of the placed region to the guest.
func (p placement) handOff() {
	if p.buf != nil {
		p.buf.HandOff()
	}
}

// convention maps "bytes in, bytes out" onto integer-only wasm signatures.
// Outbound, place writes the argument and take reads the export's result;
// inbound, take reads the import's argument and place writes its result.
type convention interface {
	generation() abi.Generation
	place(ctx context.Context, payload []byte, dir direction) (placement, error)
	take(ctx context.Context, values []uint64, dir direction) ([]byte, error)
	// bind adapts placed values to the parameter count of an export.
	bind(values []uint64, arity int) ([]uint64, error)
}

var (
	i32    = []api.ValueType{api.ValueTypeI32}
	i64    = []api.ValueType{api.ValueTypeI64}
	i32i32 = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
)

// fitsConvention reports whether a function signature carries messages the
// way gen expects. Exports and imports share the same shapes: an optional
// message parameter and a message result.
func fitsConvention(gen abi.Generation, params, results []api.ValueType) bool {
	switch gen {
	case abi.GenerationFixedBuffer:
		return slices.Equal(results, i32) && (len(params) == 0 || slices.Equal(params, i32))
	case abi.GenerationFatPointer:
		return slices.Equal(results, i64) && (len(params) == 0 || slices.Equal(params, i32i32))
	default:
		return false
	}
}

// detectGeneration applies the detection heuristic to a module's exports:
// allocate (i32)->i32 together with deallocate (i32,i32)->() selects the fat
// pointer convention, anything else falls back to the fixed buffer.
func detectGeneration(exports map[string]api.FunctionDefinition) abi.Generation {
	alloc, okAlloc := exports[abi.AllocateExport]
	dealloc, okDealloc := exports[abi.DeallocateExport]
	if !okAlloc || !okDealloc {
		return abi.GenerationFixedBuffer
	}
	if slices.Equal(alloc.ParamTypes(), i32) && slices.Equal(alloc.ResultTypes(), i32) &&
		slices.Equal(dealloc.ParamTypes(), i32i32) && len(dealloc.ResultTypes()) == 0 {
		return abi.GenerationFatPointer
	}
	return abi.GenerationFixedBuffer
}

// exportedMemory returns a bridge over the module's exported linear memory.
func exportedMemory(mod api.Module) (*memory.Bridge, error) {
	// api.Module.Memory wraps a nil instance when the module has no memory,
	// so only the export lookup can tell.
	mem := mod.ExportedMemory(abi.MemoryExport)
	if mem == nil {
		return nil, fmt.Errorf("module does not export linear memory %q", abi.MemoryExport)
	}
	return memory.NewBridge(mem), nil
}

// newConvention binds gen to an instantiated module.
func newConvention(gen abi.Generation, mod api.Module, bridge *memory.Bridge, cfg Config) (convention, error) {
	switch gen {
	case abi.GenerationFixedBuffer:
		offset, ok := exportedI32(mod, abi.MessageBufferExport)
		if !ok {
			return nil, fmt.Errorf("fixed-buffer module does not export an i32 global %q", abi.MessageBufferExport)
		}
		capacity := cfg.BufferCapacity
		if size, ok := exportedI32(mod, abi.MessageBufferSizeExport); ok {
			capacity = size
		}
		if capacity == 0 {
			return nil, fmt.Errorf("fixed buffer has zero capacity")
		}
		if err := bridge.Reserve(offset, capacity); err != nil {
			return nil, err
		}
		return &fixedBuffer{bridge: bridge, offset: offset, capacity: capacity}, nil

	case abi.GenerationFatPointer:
		allocate := mod.ExportedFunction(abi.AllocateExport)
		deallocate := mod.ExportedFunction(abi.DeallocateExport)
		if allocate == nil || deallocate == nil {
			return nil, fmt.Errorf("fat-pointer module must export %q and %q", abi.AllocateExport, abi.DeallocateExport)
		}
		return &fatPointer{
			bridge:  bridge,
			alloc:   memory.NewAllocator(bridge, allocate, deallocate, cfg.MaxMessageSize),
			maxSize: cfg.MaxMessageSize,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported ABI generation %s", gen)
	}
}

func exportedI32(mod api.Module, name string) (uint32, bool) {
	g := mod.ExportedGlobal(name)
	if g == nil || g.Type() != api.ValueTypeI32 {
		return 0, false
	}
	return api.DecodeU32(g.Get()), true
}

// fixedBuffer is the legacy convention: one static buffer at a fixed offset,
// shared by every message in both directions, with the length passed as an
// integer.
type fixedBuffer struct {
	bridge   *memory.Bridge
	offset   uint32
	capacity uint32
}

func (c *fixedBuffer) generation() abi.Generation {
	return abi.GenerationFixedBuffer
}

func (c *fixedBuffer) place(_ context.Context, payload []byte, _ direction) (placement, error) {
	if uint64(len(payload)) > uint64(c.capacity) {
		return placement{}, c.overflow("write", uint64(len(payload)))
	}
	if err := c.bridge.Write(c.offset, payload); err != nil {
		return placement{}, err
	}
	return placement{values: []uint64{uint64(len(payload))}}, nil
}

func (c *fixedBuffer) take(_ context.Context, values []uint64, _ direction) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	length := api.DecodeU32(values[0])
	if length > c.capacity {
		return nil, c.overflow("read", uint64(length))
	}
	return c.bridge.Read(c.offset, length)
}

func (c *fixedBuffer) bind(values []uint64, arity int) ([]uint64, error) {
	switch {
	case arity == 0:
		// The guest reads the message from the buffer on its own.
		return nil, nil
	case len(values) == 0:
		return []uint64{0}, nil
	default:
		return values, nil
	}
}

func (c *fixedBuffer) overflow(op string, length uint64) error {
	return &errors.MemoryError{
		Operation: op,
		Offset:    c.offset,
		Length:    uint32(min(length, math.MaxUint32)), //nolint:gosec // G115: clamped
		Size:      c.bridge.Size(),
		Err:       fmt.Errorf("message of %d bytes exceeds fixed buffer capacity %d", length, c.capacity),
	}
}

// fatPointer is the primary convention: messages live in buffers obtained
// from the guest allocator, results are returned as one packed integer and
// released by the host once copied out.
type fatPointer struct {
	bridge  *memory.Bridge
	alloc   *memory.Allocator
	maxSize uint32
}

func (c *fatPointer) generation() abi.Generation {
	return abi.GenerationFatPointer
}

func (c *fatPointer) place(ctx context.Context, payload []byte, dir direction) (placement, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return placement{}, &errors.MemoryError{
			Operation: "allocate",
			Length:    math.MaxUint32,
			Size:      c.bridge.Size(),
			Err:       fmt.Errorf("message of %d bytes exceeds the guest address space", len(payload)),
		}
	}
	buf, err := c.alloc.Acquire(ctx, uint32(len(payload))) //nolint:gosec // G115: checked above
	if err != nil {
		return placement{}, err
	}
	if err := buf.Write(payload); err != nil {
		_ = buf.Release(ctx)
		return placement{}, err
	}

	if dir == inbound {
		// The guest receives the result as a fat pointer and owns it from here.
		ptr, length := buf.HandOff()
		return placement{values: []uint64{abi.PackPtrLen(ptr, length)}}, nil
	}
	return placement{values: []uint64{uint64(buf.Ptr()), uint64(buf.Len())}, buf: buf}, nil
}

func (c *fatPointer) take(ctx context.Context, values []uint64, dir direction) ([]byte, error) {
	if dir == inbound {
		// Arguments of an import stay owned by the guest.
		if len(values) == 0 {
			return nil, nil
		}
		return c.read(api.DecodeU32(values[0]), api.DecodeU32(values[1]))
	}

	if len(values) == 0 {
		return nil, &errors.MemoryError{Operation: "read", Size: c.bridge.Size(), Err: fmt.Errorf("export returned no fat pointer")}
	}
	packed := values[0]
	ptr, length := abi.UnpackPtrLen(packed)
	if err := abi.ValidatePacked(packed); err != nil {
		return nil, &errors.MemoryError{Operation: "read", Offset: ptr, Length: length, Size: c.bridge.Size(), Err: err}
	}

	buf := c.alloc.Adopt(ptr, length)
	err := c.limit(ptr, length)
	var data []byte
	if err == nil {
		data, err = buf.Bytes()
	}
	if rerr := buf.Release(ctx); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *fatPointer) read(ptr, length uint32) ([]byte, error) {
	if err := c.limit(ptr, length); err != nil {
		return nil, err
	}
	return c.bridge.Read(ptr, length)
}

func (c *fatPointer) limit(ptr, length uint32) error {
	if c.maxSize > 0 && length > c.maxSize {
		return &errors.MemoryError{
			Operation: "read",
			Offset:    ptr,
			Length:    length,
			Size:      c.bridge.Size(),
			Err:       fmt.Errorf("exceeds maximum message size %d", c.maxSize),
		}
	}
	return nil
}

func (c *fatPointer) bind(values []uint64, arity int) ([]uint64, error) {
	if len(values) != arity {
		return nil, fmt.Errorf("%w: export takes %d parameters, call supplies %d", ErrArgumentMismatch, arity, len(values))
	}
	return values, nil
}
