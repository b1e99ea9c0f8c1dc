// Package plugintest provides a test harness for wasm plugins: an in-process
// WebAssembly module builder, reference guests implementing both calling
// conventions, and a table-driven runner for plugin calls.
package plugintest

import (
	"bytes"
	"fmt"

	"github.com/alec-deason/wasm-plugin/internal/abi"
)

// ValueType is a WebAssembly number type.
type ValueType byte

const (
	// I32 is the 32-bit integer type.
	I32 ValueType = 0x7f
	// I64 is the 64-bit integer type.
	I64 ValueType = 0x7e
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11

	externFunc   = 0x00
	externMemory = 0x02
	externGlobal = 0x03
)

type funcType struct {
	params, results []ValueType
}

type importEntry struct {
	module, name string
	typeIdx      uint32
}

type funcEntry struct {
	typeIdx uint32
	locals  []ValueType
	body    []byte
}

type globalEntry struct {
	typ     ValueType
	mutable bool
	init    int64
}

type exportEntry struct {
	name string
	kind byte
	idx  uint32
}

type dataEntry struct {
	offset uint32
	data   []byte
}

// ModuleBuilder assembles a WebAssembly binary module. Imports must be
// declared before any function is defined, since imported functions occupy
// the low function indices.
type ModuleBuilder struct {
	types    []funcType
	imports  []importEntry
	funcs    []funcEntry
	memPages uint32
	hasMem   bool
	globals  []globalEntry
	exports  []exportEntry
	data     []dataEntry
}

// NewModule returns an empty module builder.
func NewModule() *ModuleBuilder {
	return &ModuleBuilder{}
}

func (b *ModuleBuilder) typeIndex(params, results []ValueType) uint32 {
	for i, t := range b.types {
		if bytes.Equal(valueBytes(t.params), valueBytes(params)) && bytes.Equal(valueBytes(t.results), valueBytes(results)) {
			return uint32(i) //nolint:gosec // G115: test modules are small
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1) //nolint:gosec // G115: test modules are small
}

// ImportFunction declares an imported function and returns its function index.
func (b *ModuleBuilder) ImportFunction(module, name string, params, results []ValueType) uint32 {
	if len(b.funcs) > 0 {
		panic(fmt.Sprintf("plugintest: import %s.%s declared after a defined function", module, name))
	}
	b.imports = append(b.imports, importEntry{module: module, name: name, typeIdx: b.typeIndex(params, results)})
	return uint32(len(b.imports) - 1) //nolint:gosec // G115: test modules are small
}

// Function defines a function and returns its index. body is the instruction
// sequence without the final end opcode.
func (b *ModuleBuilder) Function(params, results, locals []ValueType, body ...[]byte) uint32 {
	b.funcs = append(b.funcs, funcEntry{
		typeIdx: b.typeIndex(params, results),
		locals:  locals,
		body:    bytes.Join(body, nil),
	})
	return uint32(len(b.imports) + len(b.funcs) - 1) //nolint:gosec // G115: test modules are small
}

// ExportFunction exports function idx under name.
func (b *ModuleBuilder) ExportFunction(name string, idx uint32) *ModuleBuilder {
	b.exports = append(b.exports, exportEntry{name: name, kind: externFunc, idx: idx})
	return b
}

// Memory defines the module's linear memory with the given initial size and
// exports it as "memory".
func (b *ModuleBuilder) Memory(pages uint32) *ModuleBuilder {
	b.memPages = pages
	b.hasMem = true
	b.exports = append(b.exports, exportEntry{name: abi.MemoryExport, kind: externMemory, idx: 0})
	return b
}

// Global defines a global initialised to init and returns its index.
func (b *ModuleBuilder) Global(typ ValueType, mutable bool, init int64) uint32 {
	b.globals = append(b.globals, globalEntry{typ: typ, mutable: mutable, init: init})
	return uint32(len(b.globals) - 1) //nolint:gosec // G115: test modules are small
}

// ExportGlobal exports global idx under name.
func (b *ModuleBuilder) ExportGlobal(name string, idx uint32) *ModuleBuilder {
	b.exports = append(b.exports, exportEntry{name: name, kind: externGlobal, idx: idx})
	return b
}

// Data places an active data segment at offset in memory 0.
func (b *ModuleBuilder) Data(offset uint32, data []byte) *ModuleBuilder {
	b.data = append(b.data, dataEntry{offset: offset, data: data})
	return b
}

// Build encodes the module in the WebAssembly binary format.
func (b *ModuleBuilder) Build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.types))) //nolint:gosec // G115: test modules are small
		for _, t := range b.types {
			s = append(s, 0x60)
			s = appendValueTypes(s, t.params)
			s = appendValueTypes(s, t.results)
		}
		out = appendSection(out, sectionType, s)
	}

	if len(b.imports) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.imports))) //nolint:gosec // G115: test modules are small
		for _, imp := range b.imports {
			s = appendName(s, imp.module)
			s = appendName(s, imp.name)
			s = append(s, externFunc)
			s = appendU32(s, imp.typeIdx)
		}
		out = appendSection(out, sectionImport, s)
	}

	if len(b.funcs) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.funcs))) //nolint:gosec // G115: test modules are small
		for _, f := range b.funcs {
			s = appendU32(s, f.typeIdx)
		}
		out = appendSection(out, sectionFunction, s)
	}

	if b.hasMem {
		s := []byte{0x01, 0x00}
		s = appendU32(s, b.memPages)
		out = appendSection(out, sectionMemory, s)
	}

	if len(b.globals) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.globals))) //nolint:gosec // G115: test modules are small
		for _, g := range b.globals {
			s = append(s, byte(g.typ))
			if g.mutable {
				s = append(s, 0x01)
			} else {
				s = append(s, 0x00)
			}
			if g.typ == I64 {
				s = append(s, I64Const(g.init)...)
			} else {
				s = append(s, I32Const(int32(g.init))...) //nolint:gosec // G115: caller supplies an i32 value
			}
			s = append(s, opEnd)
		}
		out = appendSection(out, sectionGlobal, s)
	}

	if len(b.exports) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.exports))) //nolint:gosec // G115: test modules are small
		for _, e := range b.exports {
			s = appendName(s, e.name)
			s = append(s, e.kind)
			s = appendU32(s, e.idx)
		}
		out = appendSection(out, sectionExport, s)
	}

	if len(b.funcs) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.funcs))) //nolint:gosec // G115: test modules are small
		for _, f := range b.funcs {
			var fn []byte
			fn = appendU32(fn, uint32(len(f.locals))) //nolint:gosec // G115: test modules are small
			for _, l := range f.locals {
				fn = appendU32(fn, 1)
				fn = append(fn, byte(l))
			}
			fn = append(fn, f.body...)
			fn = append(fn, opEnd)
			s = appendU32(s, uint32(len(fn))) //nolint:gosec // G115: test modules are small
			s = append(s, fn...)
		}
		out = appendSection(out, sectionCode, s)
	}

	if len(b.data) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.data))) //nolint:gosec // G115: test modules are small
		for _, d := range b.data {
			s = append(s, 0x00)
			s = append(s, I32Const(int32(d.offset))...) //nolint:gosec // G115: offsets fit the guest address space
			s = append(s, opEnd)
			s = appendU32(s, uint32(len(d.data))) //nolint:gosec // G115: test modules are small
			s = append(s, d.data...)
		}
		out = appendSection(out, sectionData, s)
	}

	return out
}

func appendSection(out []byte, id byte, contents []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(contents))) //nolint:gosec // G115: test modules are small
	return append(out, contents...)
}

func appendName(out []byte, name string) []byte {
	out = appendU32(out, uint32(len(name))) //nolint:gosec // G115: test modules are small
	return append(out, name...)
}

func appendValueTypes(out []byte, types []ValueType) []byte {
	out = appendU32(out, uint32(len(types))) //nolint:gosec // G115: test modules are small
	return append(out, valueBytes(types)...)
}

func valueBytes(types []ValueType) []byte {
	out := make([]byte, len(types))
	for i, t := range types {
		out[i] = byte(t)
	}
	return out
}

// appendU32 appends v as unsigned LEB128.
func appendU32(out []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		out = append(out, c)
		if v == 0 {
			return out
		}
	}
}

// appendS64 appends v as signed LEB128.
func appendS64(out []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		out = append(out, c)
		if done {
			return out
		}
	}
}
