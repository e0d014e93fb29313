package module

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

type FuncType struct {
	Params  []wasm.ValueType `json:"params"`
	Results []wasm.ValueType `json:"results"`
}

func (ft FuncType) Equal(other FuncType) bool {
	return typesEqual(ft.Params, other.Params) && typesEqual(ft.Results, other.Results)
}

func (ft FuncType) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	for i, p := range ft.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(") -> (")
	for i, r := range ft.Results {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r.String())
	}
	sb.WriteString(")")
	return sb.String()
}

func typesEqual(a, b []wasm.ValueType) bool {
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

// Instr is a decoded instruction.
//
// Imm holds the immediate: the constant bits of i32.const/i64.const, the local index,
// the label depth of br/br_if, the callee index, or the block type of block/loop/if.
// For block, loop and if, End is the position of the matching end.
// For if, Else is the position of the matching else, or of the end when there is none.
// For else, End is the position of the end of the enclosing if.
type Instr struct {
	Op   wasm.Opcode
	Imm  uint64
	Else uint32
	End  uint32
}

// BlockArity is the number of values a block, loop or if leaves on the stack.
func (in Instr) BlockArity() int {
	if in.Imm == wasm.BlockTypeEmpty {
		return 0
	}
	return 1
}

// BranchArity is the number of values a branch to this block carries.
// Loops take no parameters in the supported subset, so branching to a loop carries nothing.
func (in Instr) BranchArity() int {
	if in.Op == wasm.OpLoop {
		return 0
	}
	return in.BlockArity()
}

func (in Instr) String() string {
	switch in.Op {
	case wasm.OpI32Const:
		return fmt.Sprintf("%s %d", in.Op, int32(uint32(in.Imm)))
	case wasm.OpI64Const:
		return fmt.Sprintf("%s %d", in.Op, int64(in.Imm))
	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee, wasm.OpBr, wasm.OpBrIf, wasm.OpCall:
		return fmt.Sprintf("%s %d", in.Op, in.Imm)
	default:
		return in.Op.String()
	}
}

type Function struct {
	Index     uint32   `json:"index"`
	TypeIndex uint32   `json:"typeIndex"`
	Type      FuncType `json:"type"`

	// Locals are the declared locals, following the parameters.
	Locals []wasm.ValueType `json:"locals"`
	Body   []Instr          `json:"-"`
}

// NumLocals counts parameters and declared locals.
func (f *Function) NumLocals() int {
	return len(f.Type.Params) + len(f.Locals)
}

// LocalType returns the type of a local slot; parameters come first.
func (f *Function) LocalType(idx uint32) wasm.ValueType {
	if int(idx) < len(f.Type.Params) {
		return f.Type.Params[idx]
	}
	return f.Locals[int(idx)-len(f.Type.Params)]
}

type Export struct {
	Name      string `json:"name"`
	FuncIndex uint32 `json:"funcIndex"`
}

// Module is a decoded and validated module.
// It is never mutated after Decode returns, and may be shared between concurrent executions.
type Module struct {
	Types     []FuncType
	Functions []*Function
	Exports   []Export

	exports map[string]uint32
	raw     []byte
	hash    common.Hash
}

// Export looks up an exported function by name.
func (m *Module) Export(name string) (*Function, bool) {
	idx, ok := m.exports[name]
	if !ok {
		return nil, false
	}
	return m.Functions[idx], true
}

// Bytes returns the binary encoding the module was decoded from.
// The returned slice must not be modified.
func (m *Module) Bytes() []byte {
	return m.raw
}

// Hash is the keccak256 hash of the binary encoding.
func (m *Module) Hash() common.Hash {
	return m.hash
}

func newModule(raw []byte) *Module {
	return &Module{
		exports: make(map[string]uint32),
		raw:     raw,
		hash:    crypto.Keccak256Hash(raw),
	}
}
