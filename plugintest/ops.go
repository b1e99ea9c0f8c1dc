package plugintest

// Single-byte opcodes used by the reference guests.
const (
	OpUnreachable   byte = 0x00
	OpDrop          byte = 0x1a
	OpI32GtU        byte = 0x4b
	OpI32Add        byte = 0x6a
	OpI32Sub        byte = 0x6b
	OpI32Shl        byte = 0x74
	OpI32ShrU       byte = 0x76
	OpI64Or         byte = 0x84
	OpI64Shl        byte = 0x86
	OpI64ExtendI32U byte = 0xad

	opEnd byte = 0x0b
)

// Op wraps single-byte opcodes as an instruction sequence.
func Op(ops ...byte) []byte {
	return ops
}

// I32Const pushes v.
func I32Const(v int32) []byte {
	return appendS64([]byte{0x41}, int64(v))
}

// I64Const pushes v.
func I64Const(v int64) []byte {
	return appendS64([]byte{0x42}, v)
}

// LocalGet pushes local idx.
func LocalGet(idx uint32) []byte {
	return appendU32([]byte{0x20}, idx)
}

// LocalSet pops into local idx.
func LocalSet(idx uint32) []byte {
	return appendU32([]byte{0x21}, idx)
}

// LocalTee stores the top of the stack into local idx without popping it.
func LocalTee(idx uint32) []byte {
	return appendU32([]byte{0x22}, idx)
}

// GlobalGet pushes global idx.
func GlobalGet(idx uint32) []byte {
	return appendU32([]byte{0x23}, idx)
}

// GlobalSet pops into global idx.
func GlobalSet(idx uint32) []byte {
	return appendU32([]byte{0x24}, idx)
}

// Call invokes function idx.
func Call(idx uint32) []byte {
	return appendU32([]byte{0x10}, idx)
}

// IfThen runs body when the popped i32 is non-zero.
func IfThen(body ...[]byte) []byte {
	out := []byte{0x04, 0x40}
	for _, b := range body {
		out = append(out, b...)
	}
	return append(out, opEnd)
}

// MemorySize pushes the memory size in pages.
func MemorySize() []byte {
	return []byte{0x3f, 0x00}
}

// MemoryGrow grows memory by the popped page count and pushes the previous size.
func MemoryGrow() []byte {
	return []byte{0x40, 0x00}
}

// MemoryCopy copies n bytes from src to dst, popped as (dst, src, n).
func MemoryCopy() []byte {
	return []byte{0xfc, 0x0a, 0x00, 0x00}
}

// Increment adds one to the i32 global idx.
func Increment(idx uint32) []byte {
	return concat(GlobalGet(idx), I32Const(1), Op(OpI32Add), GlobalSet(idx))
}

// PackLocal pushes the fat pointer (length << 32 | local ptr) for a constant length.
func PackLocal(ptrLocal uint32, length uint32) []byte {
	return concat(
		I64Const(int64(length)<<32),
		LocalGet(ptrLocal),
		Op(OpI64ExtendI32U, OpI64Or),
	)
}

// PackLocals pushes the fat pointer (local length << 32 | local ptr).
func PackLocals(ptrLocal, lenLocal uint32) []byte {
	return concat(
		LocalGet(lenLocal),
		Op(OpI64ExtendI32U),
		I64Const(32),
		Op(OpI64Shl),
		LocalGet(ptrLocal),
		Op(OpI64ExtendI32U, OpI64Or),
	)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
