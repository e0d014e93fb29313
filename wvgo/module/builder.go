package module

import (
	"encoding/binary"

	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

// Expr assembles the instruction bytes of a function body.
type Expr struct {
	buf []byte
}

func (e *Expr) Op(op wasm.Opcode) *Expr {
	e.buf = append(e.buf, byte(op))
	return e
}

// Index emits an instruction with a single u32 immediate: locals, labels and calls.
func (e *Expr) Index(op wasm.Opcode, idx uint32) *Expr {
	e.buf = appendU32(append(e.buf, byte(op)), idx)
	return e
}

// Block emits block, loop or if with an optional result type.
func (e *Expr) Block(op wasm.Opcode, result ...wasm.ValueType) *Expr {
	bt := byte(wasm.BlockTypeEmpty)
	if len(result) > 0 {
		bt = byte(result[0])
	}
	e.buf = append(e.buf, byte(op), bt)
	return e
}

func (e *Expr) I32Const(v int32) *Expr {
	e.buf = appendS64(append(e.buf, byte(wasm.OpI32Const)), int64(v))
	return e
}

func (e *Expr) I64Const(v int64) *Expr {
	e.buf = appendS64(append(e.buf, byte(wasm.OpI64Const)), v)
	return e
}

// Raw appends bytes as-is, e.g. to build malformed bodies.
func (e *Expr) Raw(b ...byte) *Expr {
	e.buf = append(e.buf, b...)
	return e
}

func (e *Expr) Bytes() []byte {
	return e.buf
}

type builderFunc struct {
	typeIdx uint32
	locals  []wasm.ValueType
	body    []byte
}

// Builder produces the binary encoding of a module.
type Builder struct {
	types   []FuncType
	funcs   []builderFunc
	exports []Export
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(ft FuncType) uint32 {
	for i, t := range b.types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	b.types = append(b.types, ft)
	return uint32(len(b.types) - 1)
}

// AddFunction adds a function and returns its index.
// The body must include the final end instruction.
func (b *Builder) AddFunction(ft FuncType, locals []wasm.ValueType, body []byte) uint32 {
	b.funcs = append(b.funcs, builderFunc{typeIdx: b.typeIndex(ft), locals: locals, body: body})
	return uint32(len(b.funcs) - 1)
}

func (b *Builder) Export(name string, funcIdx uint32) *Builder {
	b.exports = append(b.exports, Export{Name: name, FuncIndex: funcIdx})
	return b
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(content)))
	return append(out, content...)
}

func appendValueTypes(out []byte, types []wasm.ValueType) []byte {
	out = appendU32(out, uint32(len(types)))
	for _, t := range types {
		out = append(out, byte(t))
	}
	return out
}

func (b *Builder) Bytes() []byte {
	out := binary.LittleEndian.AppendUint32(nil, wasm.Magic)
	out = binary.LittleEndian.AppendUint32(out, wasm.Version)

	if len(b.types) > 0 {
		sec := appendU32(nil, uint32(len(b.types)))
		for _, t := range b.types {
			sec = append(sec, wasm.FuncTypeHeader)
			sec = appendValueTypes(sec, t.Params)
			sec = appendValueTypes(sec, t.Results)
		}
		out = appendSection(out, wasm.SectionType, sec)
	}
	if len(b.funcs) > 0 {
		sec := appendU32(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			sec = appendU32(sec, f.typeIdx)
		}
		out = appendSection(out, wasm.SectionFunction, sec)
	}
	if len(b.exports) > 0 {
		sec := appendU32(nil, uint32(len(b.exports)))
		for _, e := range b.exports {
			sec = appendU32(sec, uint32(len(e.Name)))
			sec = append(sec, e.Name...)
			sec = append(sec, wasm.ExportKindFunc)
			sec = appendU32(sec, e.FuncIndex)
		}
		out = appendSection(out, wasm.SectionExport, sec)
	}
	if len(b.funcs) > 0 {
		sec := appendU32(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			var entry []byte
			// run-length encode the locals
			var groups [][2]uint32
			for _, t := range f.locals {
				if n := len(groups); n > 0 && groups[n-1][1] == uint32(t) {
					groups[n-1][0]++
				} else {
					groups = append(groups, [2]uint32{1, uint32(t)})
				}
			}
			entry = appendU32(entry, uint32(len(groups)))
			for _, g := range groups {
				entry = appendU32(entry, g[0])
				entry = append(entry, byte(g[1]))
			}
			entry = append(entry, f.body...)
			sec = appendU32(sec, uint32(len(entry)))
			sec = append(sec, entry...)
		}
		out = appendSection(out, wasm.SectionCode, sec)
	}
	return out
}
