package wat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/wasmvm/wvgo/fast"
	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/programs"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

var i32 = wasm.ValueTypeI32

func TestAssembleFib(t *testing.T) {
	bin, err := Assemble(programs.Fib)
	require.NoError(t, err)

	// the same function, assembled by hand
	e := new(module.Expr)
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
	b := module.NewBuilder()
	b.Export("fib", b.AddFunction(module.FuncType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		[]wasm.ValueType{i32, i32, i32, i32}, e.Bytes()))
	require.Equal(t, b.Bytes(), bin)

	m, err := AssembleModule(programs.Fib)
	require.NoError(t, err)
	res, err := fast.Invoke(m, "fib", wasm.I32(10))
	require.NoError(t, err)
	require.Equal(t, wasm.I32(55), res[0])
}

func invoke(t *testing.T, src string, export string, args ...wasm.Value) []wasm.Value {
	m, err := AssembleModule(src)
	require.NoError(t, err)
	res, err := fast.Invoke(m, export, args...)
	require.NoError(t, err)
	return res
}

func TestFlatForm(t *testing.T) {
	src := `
;; flat instructions with numeric indices
(module
  (func (export "max") (param i32 i32) (result i32)
    local.get 0
    local.get 1
    i32.gt_s
    if (result i32)
      local.get 0
    else
      local.get 1
    end))`
	require.Equal(t, []wasm.Value{wasm.I32(7)}, invoke(t, src, "max", wasm.I32(7), wasm.I32(-2)))
	require.Equal(t, []wasm.Value{wasm.I32(9)}, invoke(t, src, "max", wasm.I32(3), wasm.I32(9)))
}

func TestFlatLabels(t *testing.T) {
	src := `
(func $count (export "count") (param $n i64) (result i64) (local $acc i64)
  block $done
    loop $again
      local.get $n
      i64.eqz
      br_if $done
      local.get $acc
      i64.const 0x10
      i64.add
      local.set $acc
      local.get $n
      i64.const 1
      i64.sub
      local.set $n
      br $again
    end $again
  end $done
  local.get $acc)`
	require.Equal(t, []wasm.Value{wasm.I64(48)}, invoke(t, src, "count", wasm.I64(3)))
}

func TestFoldedIfAndCall(t *testing.T) {
	src := `
(module $calls
  (func $abs (param $x i32) (result i32)
    (if (result i32) (i32.lt_s (local.get $x) (i32.const 0))
      (then (i32.sub (i32.const 0) (local.get $x)))
      (else (local.get $x))))
  (func $sum_abs (param $a i32) (param $b i32) (result i32)
    (i32.add (call $abs (local.get $a)) (call $abs (local.get $b))))
  (export "sum_abs" (func $sum_abs))
  (export "abs" (func 0)))`
	require.Equal(t, []wasm.Value{wasm.I32(12)}, invoke(t, src, "sum_abs", wasm.I32(-5), wasm.I32(7)))
	require.Equal(t, []wasm.Value{wasm.I32(4)}, invoke(t, src, "abs", wasm.I32(-4)))
}

func TestConstants(t *testing.T) {
	src := `(func (export "k") (result i32) i32.const 0xffff_ffff)
(func (export "k64") (result i64) (i64.const -9223372036854775808))`
	require.Equal(t, []wasm.Value{wasm.I32(-1)}, invoke(t, src, "k"))
	require.Equal(t, []wasm.Value{wasm.I64(-1 << 63)}, invoke(t, src, "k64"))
}

func TestComments(t *testing.T) {
	src := `(module (; block (; nested ;) comment ;)
  ;; line comment
  (func (export "one") (result i32) (i32.const 1)))`
	require.Equal(t, []wasm.Value{wasm.I32(1)}, invoke(t, src, "one"))
}

func TestAssembleErrors(t *testing.T) {
	syntax := map[string]string{
		"unclosed paren":   `(module (func)`,
		"stray paren":      `)`,
		"unknown field":    `(module (fun))`,
		"unknown local":    `(func (local.get $x))`,
		"unknown label":    `(func (br $nowhere))`,
		"unknown function": `(func (call $nobody))`,
		"unknown instr":    `(func nope)`,
		"missing end":      `(func block nop)`,
		"stray end":        `(func end)`,
		"stray else":       `(func (block else))`,
		"bad literal":      `(func (result i32) (i32.const 0x1_0000_0000))`,
		"missing imm":      `(func local.get)`,
		"if without then":  `(func (if (i32.const 1)))`,
		"duplicate func":   `(func $a) (func $a)`,
		"duplicate local":  `(func (param $a i32) (local $a i32))`,
		"unterminated str": `(func (export "f))`,
		"bad comment":      `(; never closed`,
	}
	for name, src := range syntax {
		t.Run(name, func(t *testing.T) {
			_, err := Assemble(src)
			require.ErrorIs(t, err, ErrSyntax)
		})
	}

	unsupported := map[string]string{
		"memory":        `(module (memory 1))`,
		"float op":      `(func (f32.add (f32.const 1) (f32.const 2)))`,
		"br_table":      `(func block br_table 0 end)`,
		"multi-value":   `(func block (result i32 i32) unreachable end)`,
		"import":        `(func (import "env" "f"))`,
		"type use":      `(func (type 0))`,
		"global export": `(export "g" (global 0))`,
	}
	for name, src := range unsupported {
		t.Run(name, func(t *testing.T) {
			_, err := Assemble(src)
			require.ErrorIs(t, err, ErrUnsupported)
		})
	}
}

func TestDecoderRejectsAssembledFloats(t *testing.T) {
	_, err := AssembleModule(`(func (param f32))`)
	require.ErrorIs(t, err, module.ErrUnsupportedFeature)
}
