package wasm

import "fmt"

// Opcode is a single-byte WebAssembly instruction opcode.
type Opcode byte

const (
	OpUnreachable Opcode = 0x00
	OpNop         Opcode = 0x01
	OpBlock       Opcode = 0x02
	OpLoop        Opcode = 0x03
	OpIf          Opcode = 0x04
	OpElse        Opcode = 0x05
	OpEnd         Opcode = 0x0B
	OpBr          Opcode = 0x0C
	OpBrIf        Opcode = 0x0D
	OpBrTable     Opcode = 0x0E
	OpReturn      Opcode = 0x0F
	OpCall        Opcode = 0x10

	OpDrop   Opcode = 0x1A
	OpSelect Opcode = 0x1B

	OpLocalGet Opcode = 0x20
	OpLocalSet Opcode = 0x21
	OpLocalTee Opcode = 0x22

	OpI32Const Opcode = 0x41
	OpI64Const Opcode = 0x42

	OpI32Eqz Opcode = 0x45
	OpI32Eq  Opcode = 0x46
	OpI32Ne  Opcode = 0x47
	OpI32LtS Opcode = 0x48
	OpI32LtU Opcode = 0x49
	OpI32GtS Opcode = 0x4A
	OpI32GtU Opcode = 0x4B
	OpI32LeS Opcode = 0x4C
	OpI32LeU Opcode = 0x4D
	OpI32GeS Opcode = 0x4E
	OpI32GeU Opcode = 0x4F

	OpI64Eqz Opcode = 0x50
	OpI64Eq  Opcode = 0x51
	OpI64Ne  Opcode = 0x52
	OpI64LtS Opcode = 0x53
	OpI64LtU Opcode = 0x54
	OpI64GtS Opcode = 0x55
	OpI64GtU Opcode = 0x56
	OpI64LeS Opcode = 0x57
	OpI64LeU Opcode = 0x58
	OpI64GeS Opcode = 0x59
	OpI64GeU Opcode = 0x5A

	OpI32Clz    Opcode = 0x67
	OpI32Ctz    Opcode = 0x68
	OpI32Popcnt Opcode = 0x69
	OpI32Add    Opcode = 0x6A
	OpI32Sub    Opcode = 0x6B
	OpI32Mul    Opcode = 0x6C
	OpI32DivS   Opcode = 0x6D
	OpI32DivU   Opcode = 0x6E
	OpI32RemS   Opcode = 0x6F
	OpI32RemU   Opcode = 0x70
	OpI32And    Opcode = 0x71
	OpI32Or     Opcode = 0x72
	OpI32Xor    Opcode = 0x73
	OpI32Shl    Opcode = 0x74
	OpI32ShrS   Opcode = 0x75
	OpI32ShrU   Opcode = 0x76
	OpI32Rotl   Opcode = 0x77
	OpI32Rotr   Opcode = 0x78

	OpI64Clz    Opcode = 0x79
	OpI64Ctz    Opcode = 0x7A
	OpI64Popcnt Opcode = 0x7B
	OpI64Add    Opcode = 0x7C
	OpI64Sub    Opcode = 0x7D
	OpI64Mul    Opcode = 0x7E
	OpI64DivS   Opcode = 0x7F
	OpI64DivU   Opcode = 0x80
	OpI64RemS   Opcode = 0x81
	OpI64RemU   Opcode = 0x82
	OpI64And    Opcode = 0x83
	OpI64Or     Opcode = 0x84
	OpI64Xor    Opcode = 0x85
	OpI64Shl    Opcode = 0x86
	OpI64ShrS   Opcode = 0x87
	OpI64ShrU   Opcode = 0x88
	OpI64Rotl   Opcode = 0x89
	OpI64Rotr   Opcode = 0x8A

	OpI32WrapI64    Opcode = 0xA7
	OpI64ExtendI32S Opcode = 0xAC
	OpI64ExtendI32U Opcode = 0xAD
	OpI32Extend8S   Opcode = 0xC0
	OpI32Extend16S  Opcode = 0xC1
	OpI64Extend8S   Opcode = 0xC2
	OpI64Extend16S  Opcode = 0xC3
	OpI64Extend32S  Opcode = 0xC4
)

var opcodeNames = map[Opcode]string{
	OpUnreachable: "unreachable",
	OpNop:         "nop",
	OpBlock:       "block",
	OpLoop:        "loop",
	OpIf:          "if",
	OpElse:        "else",
	OpEnd:         "end",
	OpBr:          "br",
	OpBrIf:        "br_if",
	OpBrTable:     "br_table",
	OpReturn:      "return",
	OpCall:        "call",

	OpDrop:   "drop",
	OpSelect: "select",

	OpLocalGet: "local.get",
	OpLocalSet: "local.set",
	OpLocalTee: "local.tee",

	OpI32Const: "i32.const",
	OpI64Const: "i64.const",

	OpI32Eqz: "i32.eqz",
	OpI32Eq:  "i32.eq",
	OpI32Ne:  "i32.ne",
	OpI32LtS: "i32.lt_s",
	OpI32LtU: "i32.lt_u",
	OpI32GtS: "i32.gt_s",
	OpI32GtU: "i32.gt_u",
	OpI32LeS: "i32.le_s",
	OpI32LeU: "i32.le_u",
	OpI32GeS: "i32.ge_s",
	OpI32GeU: "i32.ge_u",

	OpI64Eqz: "i64.eqz",
	OpI64Eq:  "i64.eq",
	OpI64Ne:  "i64.ne",
	OpI64LtS: "i64.lt_s",
	OpI64LtU: "i64.lt_u",
	OpI64GtS: "i64.gt_s",
	OpI64GtU: "i64.gt_u",
	OpI64LeS: "i64.le_s",
	OpI64LeU: "i64.le_u",
	OpI64GeS: "i64.ge_s",
	OpI64GeU: "i64.ge_u",

	OpI32Clz:    "i32.clz",
	OpI32Ctz:    "i32.ctz",
	OpI32Popcnt: "i32.popcnt",
	OpI32Add:    "i32.add",
	OpI32Sub:    "i32.sub",
	OpI32Mul:    "i32.mul",
	OpI32DivS:   "i32.div_s",
	OpI32DivU:   "i32.div_u",
	OpI32RemS:   "i32.rem_s",
	OpI32RemU:   "i32.rem_u",
	OpI32And:    "i32.and",
	OpI32Or:     "i32.or",
	OpI32Xor:    "i32.xor",
	OpI32Shl:    "i32.shl",
	OpI32ShrS:   "i32.shr_s",
	OpI32ShrU:   "i32.shr_u",
	OpI32Rotl:   "i32.rotl",
	OpI32Rotr:   "i32.rotr",

	OpI64Clz:    "i64.clz",
	OpI64Ctz:    "i64.ctz",
	OpI64Popcnt: "i64.popcnt",
	OpI64Add:    "i64.add",
	OpI64Sub:    "i64.sub",
	OpI64Mul:    "i64.mul",
	OpI64DivS:   "i64.div_s",
	OpI64DivU:   "i64.div_u",
	OpI64RemS:   "i64.rem_s",
	OpI64RemU:   "i64.rem_u",
	OpI64And:    "i64.and",
	OpI64Or:     "i64.or",
	OpI64Xor:    "i64.xor",
	OpI64Shl:    "i64.shl",
	OpI64ShrS:   "i64.shr_s",
	OpI64ShrU:   "i64.shr_u",
	OpI64Rotl:   "i64.rotl",
	OpI64Rotr:   "i64.rotr",

	OpI32WrapI64:    "i32.wrap_i64",
	OpI64ExtendI32S: "i64.extend_i32_s",
	OpI64ExtendI32U: "i64.extend_i32_u",
	OpI32Extend8S:   "i32.extend8_s",
	OpI32Extend16S:  "i32.extend16_s",
	OpI64Extend8S:   "i64.extend8_s",
	OpI64Extend16S:  "i64.extend16_s",
	OpI64Extend32S:  "i64.extend32_s",
}

var opcodesByName = func() map[string]Opcode {
	out := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		out[name] = op
	}
	return out
}()

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(0x%02x)", byte(op))
}

// Supported reports whether the interpreter implements the opcode.
// br_table is named for diagnostics only.
func (op Opcode) Supported() bool {
	_, ok := opcodeNames[op]
	return ok && op != OpBrTable
}

// LookupOpcode finds an opcode by its text-format name.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}
