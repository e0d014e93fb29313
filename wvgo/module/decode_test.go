package module

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

var i32 = wasm.ValueTypeI32

func fibBody() []byte {
	e := new(Expr)
	e.I32Const(1).Index(wasm.OpLocalSet, 4).
		Block(wasm.OpBlock).
		Index(wasm.OpLocalGet, 0).I32Const(1).Op(wasm.OpI32LtS).Index(wasm.OpBrIf, 0).
		I32Const(0).Index(wasm.OpLocalSet, 3).
		Block(wasm.OpLoop).
		Index(wasm.OpLocalGet, 3).Index(wasm.OpLocalGet, 4).Op(wasm.OpI32Add).Index(wasm.OpLocalSet, 1).
		Index(wasm.OpLocalGet, 4).Index(wasm.OpLocalSet, 2).
		Index(wasm.OpLocalGet, 4).Index(wasm.OpLocalSet, 3).
		Index(wasm.OpLocalGet, 1).Index(wasm.OpLocalSet, 4).
		Index(wasm.OpLocalGet, 0).I32Const(-1).Op(wasm.OpI32Add).Index(wasm.OpLocalTee, 0).Index(wasm.OpBrIf, 0).
		Op(wasm.OpEnd).
		Index(wasm.OpLocalGet, 2).Op(wasm.OpReturn).
		Op(wasm.OpEnd).
		I32Const(0).
		Op(wasm.OpEnd)
	return e.Bytes()
}

func fibModule() []byte {
	b := NewBuilder()
	idx := b.AddFunction(FuncType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		[]wasm.ValueType{i32, i32, i32, i32}, fibBody())
	b.Export("fib", idx)
	return b.Bytes()
}

// singleFunc builds a module with one exported function "f".
func singleFunc(ft FuncType, locals []wasm.ValueType, body *Expr) []byte {
	b := NewBuilder()
	b.Export("f", b.AddFunction(ft, locals, body.Bytes()))
	return b.Bytes()
}

func TestDecodeFib(t *testing.T) {
	m, err := Decode(fibModule())
	require.NoError(t, err)
	require.Len(t, m.Functions, 1)
	require.Len(t, m.Types, 1)

	fn, ok := m.Export("fib")
	require.True(t, ok)
	require.Equal(t, uint32(0), fn.Index)
	require.Equal(t, 5, fn.NumLocals())
	require.Equal(t, "(i32) -> (i32)", fn.Type.String())

	_, ok = m.Export("fob")
	require.False(t, ok)

	// block is instruction 2, the loop follows the first br_if
	block := fn.Body[2]
	require.Equal(t, wasm.OpBlock, block.Op)
	require.Equal(t, wasm.OpEnd, fn.Body[block.End].Op)
	loop := fn.Body[9]
	require.Equal(t, wasm.OpLoop, loop.Op)
	require.Equal(t, wasm.OpEnd, fn.Body[loop.End].Op)
	require.Less(t, loop.End, block.End)
	require.Equal(t, wasm.OpEnd, fn.Body[len(fn.Body)-1].Op)

	require.Equal(t, "i32.const -1", fn.Body[21].String())
}

func TestDecodeCopiesInput(t *testing.T) {
	bin := fibModule()
	m, err := Decode(bin)
	require.NoError(t, err)
	hash := m.Hash()
	bin[len(bin)-2] ^= 0xff
	require.Equal(t, hash, m.Hash())
	require.NotEqual(t, bin, m.Bytes())
}

func TestIfElsePositions(t *testing.T) {
	body := new(Expr).
		Index(wasm.OpLocalGet, 0).
		Block(wasm.OpIf, i32).I32Const(1).
		Op(wasm.OpElse).I32Const(2).
		Op(wasm.OpEnd).
		Op(wasm.OpEnd)
	m, err := Decode(singleFunc(FuncType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}, nil, body))
	require.NoError(t, err)
	fn := m.Functions[0]
	ifInstr := fn.Body[1]
	require.Equal(t, wasm.OpIf, ifInstr.Op)
	require.Equal(t, uint32(3), ifInstr.Else)
	require.Equal(t, uint32(5), ifInstr.End)
	require.Equal(t, uint32(5), fn.Body[3].End)
	require.Equal(t, 1, ifInstr.BlockArity())

	t.Run("if without else", func(t *testing.T) {
		body := new(Expr).
			Index(wasm.OpLocalGet, 0).
			Block(wasm.OpIf).Op(wasm.OpNop).Op(wasm.OpEnd).
			Op(wasm.OpEnd)
		m, err := Decode(singleFunc(FuncType{Params: []wasm.ValueType{i32}}, nil, body))
		require.NoError(t, err)
		ifInstr := m.Functions[0].Body[1]
		require.Equal(t, ifInstr.End, ifInstr.Else)
	})
}

func TestDecodeMalformed(t *testing.T) {
	void := FuncType{}
	unary := FuncType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}
	cases := []struct {
		name  string
		input func() []byte
	}{
		{"empty", func() []byte { return nil }},
		{"bad magic", func() []byte {
			b := fibModule()
			b[0] = 1
			return b
		}},
		{"bad version", func() []byte {
			b := fibModule()
			binary.LittleEndian.PutUint32(b[4:8], 2)
			return b
		}},
		{"truncated section", func() []byte {
			b := fibModule()
			return b[:len(b)-3]
		}},
		{"local index out of range", func() []byte {
			return singleFunc(unary, nil, new(Expr).Index(wasm.OpLocalGet, 1).Op(wasm.OpEnd))
		}},
		{"local.set index out of range", func() []byte {
			return singleFunc(void, []wasm.ValueType{i32}, new(Expr).I32Const(1).Index(wasm.OpLocalSet, 7).Op(wasm.OpEnd))
		}},
		{"branch depth out of range", func() []byte {
			return singleFunc(void, nil, new(Expr).Block(wasm.OpBlock).Index(wasm.OpBr, 2).Op(wasm.OpEnd).Op(wasm.OpEnd))
		}},
		{"br_if depth out of range", func() []byte {
			return singleFunc(void, nil, new(Expr).I32Const(1).Index(wasm.OpBrIf, 1).Op(wasm.OpEnd))
		}},
		{"call unknown function", func() []byte {
			return singleFunc(void, nil, new(Expr).Index(wasm.OpCall, 3).Op(wasm.OpEnd))
		}},
		{"operand type mismatch", func() []byte {
			return singleFunc(unary, nil, new(Expr).Index(wasm.OpLocalGet, 0).I64Const(1).Op(wasm.OpI32Add).Op(wasm.OpEnd))
		}},
		{"stack underflow", func() []byte {
			return singleFunc(unary, nil, new(Expr).Op(wasm.OpI32Add).Op(wasm.OpEnd))
		}},
		{"missing result", func() []byte {
			return singleFunc(unary, nil, new(Expr).Op(wasm.OpEnd))
		}},
		{"extra values at end", func() []byte {
			return singleFunc(void, nil, new(Expr).I32Const(1).Op(wasm.OpEnd))
		}},
		{"missing end", func() []byte {
			return singleFunc(void, nil, new(Expr).Op(wasm.OpNop))
		}},
		{"trailing bytes", func() []byte {
			return singleFunc(void, nil, new(Expr).Op(wasm.OpEnd).Op(wasm.OpNop))
		}},
		{"else without if", func() []byte {
			return singleFunc(void, nil, new(Expr).Block(wasm.OpBlock).Op(wasm.OpElse).Op(wasm.OpEnd).Op(wasm.OpEnd))
		}},
		{"if without else yields value", func() []byte {
			return singleFunc(unary, nil, new(Expr).Index(wasm.OpLocalGet, 0).Block(wasm.OpIf, i32).I32Const(1).Op(wasm.OpEnd).Op(wasm.OpEnd))
		}},
		{"duplicate export", func() []byte {
			b := NewBuilder()
			idx := b.AddFunction(void, nil, new(Expr).Op(wasm.OpEnd).Bytes())
			b.Export("f", idx).Export("f", idx)
			return b.Bytes()
		}},
		{"export of unknown function", func() []byte {
			b := NewBuilder()
			b.AddFunction(void, nil, new(Expr).Op(wasm.OpEnd).Bytes())
			b.Export("f", 1)
			return b.Bytes()
		}},
		{"section out of order", func() []byte {
			b := fibModule()
			// append a second type section after the code section
			return append(b, wasm.SectionType, 1, 0)
		}},
		{"unknown section", func() []byte {
			return append(fibModule(), 42, 0)
		}},
		{"code count mismatch", func() []byte {
			return []byte{
				0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
				wasm.SectionType, 4, 1, 0x60, 0, 0,
				wasm.SectionFunction, 3, 2, 0, 0,
				wasm.SectionCode, 4, 1, 2, 0, 0x0b,
			}
		}},
		{"missing code section", func() []byte {
			return []byte{
				0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
				wasm.SectionType, 4, 1, 0x60, 0, 0,
				wasm.SectionFunction, 2, 1, 0,
			}
		}},
		{"invalid utf8 export name", func() []byte {
			b := NewBuilder()
			b.Export("\xff", b.AddFunction(void, nil, new(Expr).Op(wasm.OpEnd).Bytes()))
			return b.Bytes()
		}},
		{"oversized i32 constant", func() []byte {
			return singleFunc(FuncType{Results: []wasm.ValueType{i32}}, nil,
				new(Expr).Raw(byte(wasm.OpI32Const), 0xff, 0xff, 0xff, 0xff, 0x0f).Op(wasm.OpEnd))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.input())
			require.ErrorIs(t, err, ErrMalformedInput)
			require.NotErrorIs(t, err, ErrUnsupportedFeature)
		})
	}
}

func TestDecodeUnsupported(t *testing.T) {
	void := FuncType{}
	cases := []struct {
		name  string
		input func() []byte
	}{
		{"memory section", func() []byte {
			return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, wasm.SectionMemory, 3, 1, 0, 1}
		}},
		{"import section", func() []byte {
			return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, wasm.SectionImport, 1, 0}
		}},
		{"float param", func() []byte {
			return singleFunc(FuncType{Params: []wasm.ValueType{wasm.ValueTypeF32}}, nil, new(Expr).Op(wasm.OpEnd))
		}},
		{"float local", func() []byte {
			return singleFunc(void, []wasm.ValueType{wasm.ValueTypeF64}, new(Expr).Op(wasm.OpEnd))
		}},
		{"multi value result", func() []byte {
			return singleFunc(FuncType{Results: []wasm.ValueType{i32, i32}}, nil,
				new(Expr).I32Const(1).I32Const(2).Op(wasm.OpEnd))
		}},
		{"float opcode", func() []byte {
			return singleFunc(void, nil, new(Expr).Raw(0x43, 0, 0, 0, 0).Op(wasm.OpDrop).Op(wasm.OpEnd))
		}},
		{"memory load", func() []byte {
			return singleFunc(void, nil, new(Expr).I32Const(0).Raw(0x28, 2, 0).Op(wasm.OpDrop).Op(wasm.OpEnd))
		}},
		{"br_table", func() []byte {
			return singleFunc(void, nil, new(Expr).I32Const(0).Raw(byte(wasm.OpBrTable), 0, 0).Op(wasm.OpEnd))
		}},
		{"type indexed block", func() []byte {
			return singleFunc(void, nil, new(Expr).Raw(byte(wasm.OpBlock), 0x00).Op(wasm.OpEnd).Op(wasm.OpEnd))
		}},
		{"global export", func() []byte {
			return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, wasm.SectionExport, 5, 1, 1, 'g', wasm.ExportKindGlobal, 0}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.input())
			require.ErrorIs(t, err, ErrUnsupportedFeature)
		})
	}
}

func TestDecodeSkipsCustomSections(t *testing.T) {
	bin := fibModule()
	custom := []byte{wasm.SectionCustom, 5, 4, 'n', 'a', 'm', 'e'}
	withCustom := append(append(append([]byte{}, bin[:8]...), custom...), bin[8:]...)
	m, err := Decode(withCustom)
	require.NoError(t, err)
	_, ok := m.Export("fib")
	require.True(t, ok)
}

func TestPolymorphicStackAfterBranch(t *testing.T) {
	// after an unconditional branch the rest of the block is unreachable and type checks loosely
	body := new(Expr).
		Block(wasm.OpBlock, i32).
		I32Const(7).Index(wasm.OpBr, 0).
		Op(wasm.OpI32Add).
		Op(wasm.OpEnd).
		Op(wasm.OpEnd)
	_, err := Decode(singleFunc(FuncType{Results: []wasm.ValueType{i32}}, nil, body))
	require.NoError(t, err)
}

func TestLEB128(t *testing.T) {
	t.Run("signed", func(t *testing.T) {
		for _, v := range []int64{0, 1, -1, 63, 64, -64, -65, 1 << 31, -(1 << 31), 1<<63 - 1, -1 << 63} {
			r := newReader(appendS64(nil, v), 0)
			got, err := r.readS64()
			require.NoError(t, err)
			require.Equal(t, v, got)
			require.True(t, r.done())
		}
	})
	t.Run("unsigned", func(t *testing.T) {
		for _, v := range []uint32{0, 127, 128, 1 << 21, 1<<32 - 1} {
			r := newReader(appendU32(nil, v), 0)
			got, err := r.readU32()
			require.NoError(t, err)
			require.Equal(t, v, got)
		}
	})
	t.Run("u32 overflow", func(t *testing.T) {
		_, err := newReader([]byte{0xff, 0xff, 0xff, 0xff, 0x1f}, 0).readU32()
		require.ErrorIs(t, err, ErrMalformedInput)
	})
	t.Run("s32 sign bits", func(t *testing.T) {
		// -1 encoded in five bytes is valid, a flipped unused bit is not
		v, err := newReader([]byte{0xff, 0xff, 0xff, 0xff, 0x7f}, 0).readS32()
		require.NoError(t, err)
		require.Equal(t, int32(-1), v)
		_, err = newReader([]byte{0xff, 0xff, 0xff, 0xff, 0x4f}, 0).readS32()
		require.ErrorIs(t, err, ErrMalformedInput)
	})
}
