// Package wasmgen assembles small WebAssembly core modules in memory.
//
// It covers just what the host needs: the shared memory module backing the
// state arena, the demo counter module, and test fixtures. Function bodies are
// raw instruction bytes built with the helpers in code.go.
package wasmgen

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hotreload"
)

// Section ids.
const (
	secType     = 0x01
	secImport   = 0x02
	secFunction = 0x03
	secMemory   = 0x05
	secGlobal   = 0x06
	secExport   = 0x07
	secCode     = 0x0a
	secData     = 0x0b
)

// External kinds for imports and exports.
const (
	kindFunc   = 0x00
	kindMemory = 0x02
	kindGlobal = 0x03
)

// Limits describes a memory size in 64KiB pages.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

type importEntry struct {
	module string
	name   string
	kind   byte
	typeIx uint32
	limits Limits
}

type funcEntry struct {
	typeIx uint32
	body   []byte
}

type globalEntry struct {
	mutable bool
	init    int32
}

type exportEntry struct {
	name  string
	kind  byte
	index uint32
}

type dataEntry struct {
	offset int32
	bytes  []byte
}

// Builder accumulates module sections. Imports must be declared before any
// local function so the function index space stays stable.
type Builder struct {
	types     []hotreload.Signature
	imports   []importEntry
	funcs     []funcEntry
	memories  []Limits
	globals   []globalEntry
	exports   []exportEntry
	data      []dataEntry
	funcCount uint32
}

// NewBuilder returns an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(sig hotreload.Signature) uint32 {
	for i, t := range b.types {
		if sameTypes(t.Params, sig.Params) && sameTypes(t.Results, sig.Results) {
			return uint32(i)
		}
	}
	b.types = append(b.types, sig)
	return uint32(len(b.types) - 1)
}

// ImportFunc declares an imported function and returns its function index.
func (b *Builder) ImportFunc(module, name string, sig hotreload.Signature) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmgen: ImportFunc after local functions")
	}
	b.imports = append(b.imports, importEntry{
		module: module,
		name:   name,
		kind:   kindFunc,
		typeIx: b.typeIndex(sig),
	})
	b.funcCount++
	return b.funcCount - 1
}

// ImportMemory declares an imported memory.
func (b *Builder) ImportMemory(module, name string, limits Limits) {
	b.imports = append(b.imports, importEntry{
		module: module,
		name:   name,
		kind:   kindMemory,
		limits: limits,
	})
}

// Memory defines a local memory and returns its index.
func (b *Builder) Memory(limits Limits) uint32 {
	b.memories = append(b.memories, limits)
	return uint32(len(b.memories) - 1)
}

// Global defines a local i32 global and returns its index.
func (b *Builder) Global(mutable bool, init int32) uint32 {
	b.globals = append(b.globals, globalEntry{mutable: mutable, init: init})
	return uint32(len(b.globals) - 1)
}

// Func defines a local function. body holds the instructions without the
// trailing end opcode; the function has no locals beyond its parameters.
func (b *Builder) Func(sig hotreload.Signature, body []byte) uint32 {
	b.funcs = append(b.funcs, funcEntry{typeIx: b.typeIndex(sig), body: body})
	b.funcCount++
	return b.funcCount - 1
}

// ExportFunc exports function idx under name.
func (b *Builder) ExportFunc(name string, idx uint32) {
	b.exports = append(b.exports, exportEntry{name: name, kind: kindFunc, index: idx})
}

// ExportMemory exports memory idx under name.
func (b *Builder) ExportMemory(name string, idx uint32) {
	b.exports = append(b.exports, exportEntry{name: name, kind: kindMemory, index: idx})
}

// ExportGlobal exports global idx under name.
func (b *Builder) ExportGlobal(name string, idx uint32) {
	b.exports = append(b.exports, exportEntry{name: name, kind: kindGlobal, index: idx})
}

// Data adds an active data segment for memory 0.
func (b *Builder) Data(offset int32, bytes []byte) {
	b.data = append(b.data, dataEntry{offset: offset, bytes: bytes})
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		var s []byte
		s = appendULEB128(s, uint32(len(b.types)))
		for _, t := range b.types {
			s = append(s, 0x60)
			s = appendValTypes(s, t.Params)
			s = appendValTypes(s, t.Results)
		}
		out = appendSection(out, secType, s)
	}

	if len(b.imports) > 0 {
		var s []byte
		s = appendULEB128(s, uint32(len(b.imports)))
		for _, imp := range b.imports {
			s = appendName(s, imp.module)
			s = appendName(s, imp.name)
			s = append(s, imp.kind)
			switch imp.kind {
			case kindFunc:
				s = appendULEB128(s, imp.typeIx)
			case kindMemory:
				s = appendLimits(s, imp.limits)
			}
		}
		out = appendSection(out, secImport, s)
	}

	if len(b.funcs) > 0 {
		var s []byte
		s = appendULEB128(s, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			s = appendULEB128(s, f.typeIx)
		}
		out = appendSection(out, secFunction, s)
	}

	if len(b.memories) > 0 {
		var s []byte
		s = appendULEB128(s, uint32(len(b.memories)))
		for _, m := range b.memories {
			s = appendLimits(s, m)
		}
		out = appendSection(out, secMemory, s)
	}

	if len(b.globals) > 0 {
		var s []byte
		s = appendULEB128(s, uint32(len(b.globals)))
		for _, g := range b.globals {
			s = append(s, byte(api.ValueTypeI32))
			if g.mutable {
				s = append(s, 0x01)
			} else {
				s = append(s, 0x00)
			}
			s = append(s, I32Const(g.init)...)
			s = append(s, opEnd)
		}
		out = appendSection(out, secGlobal, s)
	}

	if len(b.exports) > 0 {
		var s []byte
		s = appendULEB128(s, uint32(len(b.exports)))
		for _, e := range b.exports {
			s = appendName(s, e.name)
			s = append(s, e.kind)
			s = appendULEB128(s, e.index)
		}
		out = appendSection(out, secExport, s)
	}

	if len(b.funcs) > 0 {
		var s []byte
		s = appendULEB128(s, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			body := []byte{0x00} // no local declarations
			body = append(body, f.body...)
			body = append(body, opEnd)
			s = appendULEB128(s, uint32(len(body)))
			s = append(s, body...)
		}
		out = appendSection(out, secCode, s)
	}

	if len(b.data) > 0 {
		var s []byte
		s = appendULEB128(s, uint32(len(b.data)))
		for _, d := range b.data {
			s = append(s, 0x00) // active, memory 0
			s = append(s, I32Const(d.offset)...)
			s = append(s, opEnd)
			s = appendULEB128(s, uint32(len(d.bytes)))
			s = append(s, d.bytes...)
		}
		out = appendSection(out, secData, s)
	}

	return out
}

// MemoryModule builds a module that only defines and exports one memory.
// With min == max pages the memory can never grow, so views into it stay valid.
func MemoryModule(exportName string, pages uint32) []byte {
	b := NewBuilder()
	idx := b.Memory(Limits{Min: pages, Max: pages, HasMax: true})
	b.ExportMemory(exportName, idx)
	return b.Bytes()
}

func appendSection(dst []byte, id byte, payload []byte) []byte {
	dst = append(dst, id)
	dst = appendULEB128(dst, uint32(len(payload)))
	return append(dst, payload...)
}

func appendName(dst []byte, name string) []byte {
	dst = appendULEB128(dst, uint32(len(name)))
	return append(dst, name...)
}

func appendValTypes(dst []byte, types []api.ValueType) []byte {
	dst = appendULEB128(dst, uint32(len(types)))
	for _, t := range types {
		dst = append(dst, byte(t))
	}
	return dst
}

func appendLimits(dst []byte, l Limits) []byte {
	if l.HasMax {
		dst = append(dst, 0x01)
		dst = appendULEB128(dst, l.Min)
		return appendULEB128(dst, l.Max)
	}
	dst = append(dst, 0x00)
	return appendULEB128(dst, l.Min)
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
