package wasm

import (
	"fmt"
	"strconv"
	"strings"
)

type ValueType byte

const (
	ValueTypeI32       ValueType = 0x7F
	ValueTypeI64       ValueType = 0x7E
	ValueTypeF32       ValueType = 0x7D
	ValueTypeF64       ValueType = 0x7C
	ValueTypeV128      ValueType = 0x7B
	ValueTypeFuncRef   ValueType = 0x70
	ValueTypeExternRef ValueType = 0x6F
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncRef:
		return "funcref"
	case ValueTypeExternRef:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(t))
	}
}

// Known reports whether t is any valid WebAssembly value type.
func (t ValueType) Known() bool {
	switch t {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64, ValueTypeV128, ValueTypeFuncRef, ValueTypeExternRef:
		return true
	}
	return false
}

// Integer reports whether t is one of the value types the interpreter executes.
func (t ValueType) Integer() bool {
	return t == ValueTypeI32 || t == ValueTypeI64
}

func (t ValueType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ValueType) UnmarshalText(text []byte) error {
	v, err := ParseValueType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseValueType(s string) (ValueType, error) {
	switch s {
	case "i32":
		return ValueTypeI32, nil
	case "i64":
		return ValueTypeI64, nil
	case "f32":
		return ValueTypeF32, nil
	case "f64":
		return ValueTypeF64, nil
	case "v128":
		return ValueTypeV128, nil
	case "funcref":
		return ValueTypeFuncRef, nil
	case "externref":
		return ValueTypeExternRef, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}

// Value is a tagged integer value. i32 values keep the upper 32 bits of Bits zeroed.
type Value struct {
	Type ValueType `json:"type"`
	Bits uint64    `json:"bits"`
}

func I32(v int32) Value {
	return Value{Type: ValueTypeI32, Bits: uint64(uint32(v))}
}

func I64(v int64) Value {
	return Value{Type: ValueTypeI64, Bits: uint64(v)}
}

// Zero returns the default value of the given type.
func Zero(t ValueType) Value {
	return Value{Type: t}
}

func (v Value) I32() int32  { return int32(uint32(v.Bits)) }
func (v Value) U32() uint32 { return uint32(v.Bits) }
func (v Value) I64() int64  { return int64(v.Bits) }
func (v Value) U64() uint64 { return v.Bits }

func (v Value) String() string {
	switch v.Type {
	case ValueTypeI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case ValueTypeI64:
		return fmt.Sprintf("i64:%d", v.I64())
	default:
		return fmt.Sprintf("%s:0x%x", v.Type, v.Bits)
	}
}

// ParseValue parses "i32:<n>", "i64:<n>" or a bare number, which is taken as i32.
// Numbers may be signed, or hex with a 0x prefix.
func ParseValue(s string) (Value, error) {
	typ := ValueTypeI32
	num := s
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		t, err := ParseValueType(prefix)
		if err != nil {
			return Value{}, err
		}
		if !t.Integer() {
			return Value{}, fmt.Errorf("unsupported argument type %s", t)
		}
		typ, num = t, rest
	}
	bitSize := 32
	if typ == ValueTypeI64 {
		bitSize = 64
	}
	if n, err := strconv.ParseInt(num, 0, bitSize); err == nil {
		if typ == ValueTypeI64 {
			return I64(n), nil
		}
		return I32(int32(n)), nil
	}
	// allow the unsigned range too, e.g. i32:0xffffffff
	n, err := strconv.ParseUint(num, 0, bitSize)
	if err != nil {
		return Value{}, fmt.Errorf("invalid %s value %q: %w", typ, num, err)
	}
	return Value{Type: typ, Bits: n}, nil
}
