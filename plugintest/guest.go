package plugintest

import (
	"github.com/alec-deason/wasm-plugin/codec"
	"github.com/alec-deason/wasm-plugin/internal/abi"
)

// Callable functions exported by the reference guests, without the export prefix.
const (
	FuncHello                = "hello"
	FuncEcho                 = "echo"
	FuncFavoriteNumbers      = "favorite_numbers"
	FuncHostsFavoriteNumbers = "hosts_favorite_numbers"
	FuncIgnoreArgument       = "ignore_argument"
	FuncTrap                 = "trap"
	FuncBadResult            = "bad_result"
	FuncRandom               = "random"
	FuncExit                 = "exit"
)

// Host functions the reference guests import when Guest.Imports is set.
const (
	ImportCapitalize      = "please_capitalize_this"
	ImportFavoriteNumbers = "the_hosts_favorite_numbers"
)

// Counters exported by the fat-pointer guest.
const (
	GlobalAllocCalls = "alloc_calls"
	GlobalFreeCalls  = "free_calls"
)

const (
	// HeapBase is the first address handed out by the fat-pointer guest's allocator.
	HeapBase = 1024
	// BufferOffset is the fixed-buffer guest's MESSAGE_BUFFER.
	BufferOffset = 1024
	// RandomLength is the number of bytes random requests through __getrandom.
	RandomLength = 16
	// ExitCode is the status exit passes to proc_exit.
	ExitCode = 3

	constantsOffset = 64
)

// HelloResult is what hello returns.
const HelloResult = "test"

// FavoriteNumbers is what favorite_numbers returns.
var FavoriteNumbers = []int32{1, 2, 43}

// Guest describes a reference plugin. The zero value is a JSON guest with the
// standard export prefix and no imports.
type Guest struct {
	// Codec encodes the constant results baked into the module.
	Codec codec.Codec
	// Prefix marks callable exports.
	Prefix string
	// ImportModule is the namespace host functions are imported from.
	ImportModule string
	// Imports routes echo through please_capitalize_this and adds
	// hosts_favorite_numbers, which returns the_hosts_favorite_numbers.
	Imports bool
	// Entropy adds random, which fills RandomLength bytes through __getrandom.
	Entropy bool
	// WASI adds exit, which calls proc_exit.
	WASI bool
	// BufferSize, when non-zero, is exported as MESSAGE_BUFFER_SIZE by the
	// fixed-buffer guest.
	BufferSize uint32
	// TrapOnInitialize exports an _initialize that traps.
	TrapOnInitialize bool
}

func (g Guest) withDefaults() Guest {
	if g.Codec == nil {
		g.Codec = codec.MustNew(codec.KindJSON)
	}
	if g.Prefix == "" {
		g.Prefix = abi.ExportPrefix
	}
	if g.ImportModule == "" {
		g.ImportModule = abi.DefaultImportModule
	}
	return g
}

type constant struct {
	offset uint32
	data   []byte
}

func (g Guest) constants(b *ModuleBuilder) (hello, numbers constant) {
	helloData, err := g.Codec.Marshal(HelloResult)
	if err != nil {
		panic(err)
	}
	numbersData, err := g.Codec.Marshal(FavoriteNumbers)
	if err != nil {
		panic(err)
	}
	hello = constant{offset: constantsOffset, data: helloData}
	numbers = constant{offset: constantsOffset + uint32(len(helloData)), data: numbersData} //nolint:gosec // G115: tiny constants
	b.Data(hello.offset, hello.data).Data(numbers.offset, numbers.data)
	return hello, numbers
}

type guestImports struct {
	capitalize, hostNumbers, getRandom, procExit uint32
}

func (g Guest) declareImports(b *ModuleBuilder, message, result []ValueType) guestImports {
	var imp guestImports
	if g.Imports {
		imp.capitalize = b.ImportFunction(g.ImportModule, ImportCapitalize, message, result)
		imp.hostNumbers = b.ImportFunction(g.ImportModule, ImportFavoriteNumbers, nil, result)
	}
	if g.Entropy {
		imp.getRandom = b.ImportFunction(g.ImportModule, abi.GetRandomImport, []ValueType{I32, I32}, nil)
	}
	if g.WASI {
		imp.procExit = b.ImportFunction("wasi_snapshot_preview1", "proc_exit", []ValueType{I32}, nil)
	}
	return imp
}

func (g Guest) export(b *ModuleBuilder, name string, idx uint32) {
	b.ExportFunction(g.Prefix+name, idx)
}

func (g Guest) exportInitialize(b *ModuleBuilder) {
	if g.TrapOnInitialize {
		b.ExportFunction(abi.InitializeExport, b.Function(nil, nil, nil, Op(OpUnreachable)))
	}
}

// FatPointer builds a guest implementing the fat-pointer convention. Its
// allocator is a bump allocator that grows memory on demand and counts
// allocate and deallocate calls in the alloc_calls and free_calls globals.
func (g Guest) FatPointer() []byte {
	g = g.withDefaults()
	b := NewModule()
	packed := []ValueType{I64}
	imp := g.declareImports(b, []ValueType{I32, I32}, packed)

	b.Memory(1)
	hello, numbers := g.constants(b)
	heap := b.Global(I32, true, HeapBase)
	allocCalls := b.Global(I32, true, 0)
	freeCalls := b.Global(I32, true, 0)
	b.ExportGlobal(GlobalAllocCalls, allocCalls).ExportGlobal(GlobalFreeCalls, freeCalls)

	memBytes := concat(MemorySize(), I32Const(16), Op(OpI32Shl))
	allocate := b.Function([]ValueType{I32}, []ValueType{I32}, []ValueType{I32},
		GlobalGet(heap), LocalTee(1), LocalGet(0), Op(OpI32Add), GlobalSet(heap),
		Increment(allocCalls),
		GlobalGet(heap), memBytes, Op(OpI32GtU),
		IfThen(
			GlobalGet(heap), memBytes, Op(OpI32Sub),
			I32Const(0xffff), Op(OpI32Add), I32Const(16), Op(OpI32ShrU),
			MemoryGrow(), Op(OpDrop),
		),
		LocalGet(1),
	)
	b.ExportFunction(abi.AllocateExport, allocate)
	b.ExportFunction(abi.DeallocateExport, b.Function([]ValueType{I32, I32}, nil, nil, Increment(freeCalls)))

	fresh := func(c constant) uint32 {
		n := int32(len(c.data)) //nolint:gosec // G115: tiny constants
		return b.Function(nil, packed, []ValueType{I32},
			I32Const(n), Call(allocate), LocalSet(0),
			LocalGet(0), I32Const(int32(c.offset)), I32Const(n), MemoryCopy(), //nolint:gosec // G115: tiny offsets
			PackLocal(0, uint32(n)),
		)
	}
	g.export(b, FuncHello, fresh(hello))
	g.export(b, FuncFavoriteNumbers, fresh(numbers))

	if g.Imports {
		g.export(b, FuncEcho, b.Function([]ValueType{I32, I32}, packed, nil,
			LocalGet(0), LocalGet(1), Call(imp.capitalize)))
		g.export(b, FuncHostsFavoriteNumbers, b.Function(nil, packed, nil, Call(imp.hostNumbers)))
	} else {
		g.export(b, FuncEcho, b.Function([]ValueType{I32, I32}, packed, nil, PackLocals(0, 1)))
	}

	g.export(b, FuncTrap, b.Function(nil, packed, nil, Op(OpUnreachable)))
	// Five bytes at the null pointer.
	g.export(b, FuncBadResult, b.Function(nil, packed, nil, I64Const(5<<32)))

	if g.Entropy {
		g.export(b, FuncRandom, b.Function(nil, packed, []ValueType{I32},
			I32Const(RandomLength), Call(allocate), LocalTee(0),
			I32Const(RandomLength), Call(imp.getRandom),
			PackLocal(0, RandomLength),
		))
	}
	if g.WASI {
		g.export(b, FuncExit, b.Function(nil, packed, nil, I32Const(ExitCode), Call(imp.procExit), Op(OpUnreachable)))
	}
	g.exportInitialize(b)
	return b.Build()
}

// FixedBuffer builds a guest implementing the fixed-buffer convention with
// its MESSAGE_BUFFER at BufferOffset.
func (g Guest) FixedBuffer() []byte {
	g = g.withDefaults()
	b := NewModule()
	length := []ValueType{I32}
	imp := g.declareImports(b, length, length)

	b.Memory(1)
	hello, numbers := g.constants(b)
	b.ExportGlobal(abi.MessageBufferExport, b.Global(I32, false, BufferOffset))
	capacity := uint32(abi.DefaultBufferCapacity)
	if g.BufferSize != 0 {
		capacity = g.BufferSize
		b.ExportGlobal(abi.MessageBufferSizeExport, b.Global(I32, false, int64(g.BufferSize)))
	}

	write := func(c constant) uint32 {
		n := int32(len(c.data)) //nolint:gosec // G115: tiny constants
		return b.Function(nil, length, nil,
			I32Const(BufferOffset), I32Const(int32(c.offset)), I32Const(n), MemoryCopy(), //nolint:gosec // G115: tiny offsets
			I32Const(n),
		)
	}
	g.export(b, FuncHello, write(hello))
	g.export(b, FuncFavoriteNumbers, write(numbers))
	g.export(b, FuncIgnoreArgument, write(hello))

	if g.Imports {
		g.export(b, FuncEcho, b.Function(length, length, nil, LocalGet(0), Call(imp.capitalize)))
		g.export(b, FuncHostsFavoriteNumbers, b.Function(nil, length, nil, Call(imp.hostNumbers)))
	} else {
		g.export(b, FuncEcho, b.Function(length, length, nil, LocalGet(0)))
	}

	g.export(b, FuncTrap, b.Function(nil, length, nil, Op(OpUnreachable)))
	g.export(b, FuncBadResult, b.Function(nil, length, nil, I32Const(int32(capacity+1)))) //nolint:gosec // G115: capacity fits i32

	if g.Entropy {
		g.export(b, FuncRandom, b.Function(nil, length, nil,
			I32Const(BufferOffset), I32Const(RandomLength), Call(imp.getRandom),
			I32Const(RandomLength),
		))
	}
	if g.WASI {
		g.export(b, FuncExit, b.Function(nil, length, nil, I32Const(ExitCode), Call(imp.procExit), Op(OpUnreachable)))
	}
	g.exportInitialize(b)
	return b.Build()
}
