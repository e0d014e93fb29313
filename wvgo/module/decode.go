package module

import (
	"encoding/binary"

	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

// Decode parses and validates a binary module.
// Structural problems fail with ErrMalformedInput,
// constructs outside the supported subset fail with ErrUnsupportedFeature.
func Decode(b []byte) (*Module, error) {
	raw := make([]byte, len(b))
	copy(raw, b)
	m := newModule(raw)

	if len(raw) < 8 {
		return nil, malformed(0, "module header truncated")
	}
	if magic := binary.LittleEndian.Uint32(raw[0:4]); magic != wasm.Magic {
		return nil, malformed(0, "invalid magic %08x", magic)
	}
	if version := binary.LittleEndian.Uint32(raw[4:8]); version != wasm.Version {
		return nil, malformed(4, "unsupported version %d", version)
	}

	r := newReader(raw[8:], 8)
	var funcTypeIndices []uint32
	var codeSeen bool
	lastID := byte(0)
	for !r.done() {
		sectionStart := r.offset()
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.readU32()
		if err != nil {
			return nil, err
		}
		contentStart := r.offset()
		content, err := r.readBytes(size)
		if err != nil {
			return nil, malformed(sectionStart, "section %d truncated", id)
		}
		if id > wasm.SectionDataCount {
			return nil, malformed(sectionStart, "unknown section id %d", id)
		}
		if id == wasm.SectionCustom {
			// custom sections carry no semantics, but the name must still be well-formed
			if _, err := newReader(content, contentStart).readName(); err != nil {
				return nil, err
			}
			continue
		}
		if id <= lastID {
			return nil, malformed(sectionStart, "section %d out of order or duplicated", id)
		}
		lastID = id

		sr := newReader(content, contentStart)
		switch id {
		case wasm.SectionType:
			if err := m.decodeTypes(sr); err != nil {
				return nil, err
			}
		case wasm.SectionFunction:
			if funcTypeIndices, err = m.decodeFunctionIndices(sr); err != nil {
				return nil, err
			}
		case wasm.SectionExport:
			// exports may reference functions declared before the code section is seen
			if err := m.decodeExports(sr, uint32(len(funcTypeIndices))); err != nil {
				return nil, err
			}
		case wasm.SectionCode:
			if err := m.decodeCode(sr, funcTypeIndices); err != nil {
				return nil, err
			}
			codeSeen = true
		default:
			return nil, unsupported(sectionStart, "section %s", sectionName(id))
		}
		if !sr.done() {
			return nil, malformed(sr.offset(), "section %d size mismatch", id)
		}
	}
	if len(funcTypeIndices) > 0 && !codeSeen {
		return nil, malformed(len(raw), "function section declares %d functions but code section is missing", len(funcTypeIndices))
	}
	return m, nil
}

func sectionName(id byte) string {
	switch id {
	case wasm.SectionImport:
		return "import"
	case wasm.SectionTable:
		return "table"
	case wasm.SectionMemory:
		return "memory"
	case wasm.SectionGlobal:
		return "global"
	case wasm.SectionStart:
		return "start"
	case wasm.SectionElement:
		return "element"
	case wasm.SectionData:
		return "data"
	case wasm.SectionDataCount:
		return "data count"
	default:
		return "unknown"
	}
}

func (m *Module) decodeTypes(r *reader) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		off := r.offset()
		header, err := r.readByte()
		if err != nil {
			return err
		}
		if header != wasm.FuncTypeHeader {
			return malformed(off, "invalid function type header 0x%02x", header)
		}
		params, err := readValueTypes(r)
		if err != nil {
			return err
		}
		results, err := readValueTypes(r)
		if err != nil {
			return err
		}
		if len(results) > 1 {
			return unsupported(off, "multiple results in type %d", i)
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readValueTypes(r *reader) ([]wasm.ValueType, error) {
	count, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if count > wasm.MaxLocals {
		return nil, malformed(r.offset(), "too many value types: %d", count)
	}
	out := make([]wasm.ValueType, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := readValueType(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func readValueType(r *reader) (wasm.ValueType, error) {
	off := r.offset()
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	t := wasm.ValueType(b)
	if !t.Known() {
		return 0, malformed(off, "invalid value type 0x%02x", b)
	}
	if !t.Integer() {
		return 0, unsupported(off, "value type %s", t)
	}
	return t, nil
}

func (m *Module) decodeFunctionIndices(r *reader) ([]uint32, error) {
	count, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, min(count, uint32(len(r.buf))))
	for i := uint32(0); i < count; i++ {
		off := r.offset()
		idx, err := r.readU32()
		if err != nil {
			return nil, err
		}
		if idx >= uint32(len(m.Types)) {
			return nil, malformed(off, "function %d references unknown type %d", i, idx)
		}
		out = append(out, idx)
	}
	return out, nil
}

func (m *Module) decodeExports(r *reader, funcCount uint32) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		off := r.offset()
		name, err := r.readName()
		if err != nil {
			return err
		}
		kind, err := r.readByte()
		if err != nil {
			return err
		}
		idx, err := r.readU32()
		if err != nil {
			return err
		}
		switch kind {
		case wasm.ExportKindFunc:
		case wasm.ExportKindTable, wasm.ExportKindMemory, wasm.ExportKindGlobal:
			return unsupported(off, "export %q of kind %d", name, kind)
		default:
			return malformed(off, "export %q has invalid kind %d", name, kind)
		}
		if idx >= funcCount {
			return malformed(off, "export %q references unknown function %d", name, idx)
		}
		if _, ok := m.exports[name]; ok {
			return malformed(off, "duplicate export %q", name)
		}
		m.exports[name] = idx
		m.Exports = append(m.Exports, Export{Name: name, FuncIndex: idx})
	}
	return nil
}

func (m *Module) decodeCode(r *reader, funcTypeIndices []uint32) error {
	off := r.offset()
	count, err := r.readU32()
	if err != nil {
		return err
	}
	if count != uint32(len(funcTypeIndices)) {
		return malformed(off, "code section has %d entries, function section declares %d", count, len(funcTypeIndices))
	}
	// create all function headers first, so calls can be validated against any callee
	for i, typeIdx := range funcTypeIndices {
		m.Functions = append(m.Functions, &Function{
			Index:     uint32(i),
			TypeIndex: typeIdx,
			Type:      m.Types[typeIdx],
		})
	}
	for _, fn := range m.Functions {
		size, err := r.readU32()
		if err != nil {
			return err
		}
		bodyStart := r.offset()
		body, err := r.readBytes(size)
		if err != nil {
			return err
		}
		br := newReader(body, bodyStart)
		if err := m.decodeLocals(br, fn); err != nil {
			return err
		}
		instrs, err := m.validateBody(br, fn)
		if err != nil {
			return err
		}
		fn.Body = instrs
	}
	return nil
}

func (m *Module) decodeLocals(r *reader, fn *Function) error {
	groups, err := r.readU32()
	if err != nil {
		return err
	}
	total := uint64(len(fn.Type.Params))
	for i := uint32(0); i < groups; i++ {
		off := r.offset()
		n, err := r.readU32()
		if err != nil {
			return err
		}
		total += uint64(n)
		if total > wasm.MaxLocals {
			return malformed(off, "function %d declares too many locals", fn.Index)
		}
		t, err := readValueType(r)
		if err != nil {
			return err
		}
		for j := uint32(0); j < n; j++ {
			fn.Locals = append(fn.Locals, t)
		}
	}
	return nil
}
