package fast

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

func b2i(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (s *VMState) pushI32(v uint32) {
	s.push(wasm.Value{Type: wasm.ValueTypeI32, Bits: uint64(v)})
}

func (s *VMState) pushI64(v uint64) {
	s.push(wasm.Value{Type: wasm.ValueTypeI64, Bits: v})
}

// numeric executes the comparison, arithmetic and conversion instructions.
// All integer arithmetic wraps modulo 2^32 or 2^64.
func (s *VMState) numeric(op wasm.Opcode) {
	switch {
	case op == wasm.OpI32Eqz:
		s.pushI32(b2i(s.pop().U32() == 0))
	case op >= wasm.OpI32Eq && op <= wasm.OpI32GeU:
		b := s.pop().U32()
		a := s.pop().U32()
		s.pushI32(b2i(compare32(op, a, b)))
	case op == wasm.OpI64Eqz:
		s.pushI32(b2i(s.pop().U64() == 0))
	case op >= wasm.OpI64Eq && op <= wasm.OpI64GeU:
		b := s.pop().U64()
		a := s.pop().U64()
		s.pushI32(b2i(compare64(op, a, b)))
	case op >= wasm.OpI32Clz && op <= wasm.OpI32Popcnt:
		s.pushI32(unary32(op, s.pop().U32()))
	case op >= wasm.OpI32Add && op <= wasm.OpI32Rotr:
		b := s.pop().U32()
		a := s.pop().U32()
		s.pushI32(binary32(op, a, b))
	case op >= wasm.OpI64Clz && op <= wasm.OpI64Popcnt:
		s.pushI64(unary64(op, s.pop().U64()))
	case op >= wasm.OpI64Add && op <= wasm.OpI64Rotr:
		b := s.pop().U64()
		a := s.pop().U64()
		s.pushI64(binary64(op, a, b))
	default:
		s.convert(op)
	}
}

func compare32(op wasm.Opcode, a, b uint32) bool {
	switch op {
	case wasm.OpI32Eq:
		return a == b
	case wasm.OpI32Ne:
		return a != b
	case wasm.OpI32LtS:
		return int32(a) < int32(b)
	case wasm.OpI32LtU:
		return a < b
	case wasm.OpI32GtS:
		return int32(a) > int32(b)
	case wasm.OpI32GtU:
		return a > b
	case wasm.OpI32LeS:
		return int32(a) <= int32(b)
	case wasm.OpI32LeU:
		return a <= b
	case wasm.OpI32GeS:
		return int32(a) >= int32(b)
	default: // OpI32GeU
		return a >= b
	}
}

func compare64(op wasm.Opcode, a, b uint64) bool {
	switch op {
	case wasm.OpI64Eq:
		return a == b
	case wasm.OpI64Ne:
		return a != b
	case wasm.OpI64LtS:
		return int64(a) < int64(b)
	case wasm.OpI64LtU:
		return a < b
	case wasm.OpI64GtS:
		return int64(a) > int64(b)
	case wasm.OpI64GtU:
		return a > b
	case wasm.OpI64LeS:
		return int64(a) <= int64(b)
	case wasm.OpI64LeU:
		return a <= b
	case wasm.OpI64GeS:
		return int64(a) >= int64(b)
	default: // OpI64GeU
		return a >= b
	}
}

func unary32(op wasm.Opcode, a uint32) uint32 {
	switch op {
	case wasm.OpI32Clz:
		return uint32(bits.LeadingZeros32(a))
	case wasm.OpI32Ctz:
		return uint32(bits.TrailingZeros32(a))
	default: // OpI32Popcnt
		return uint32(bits.OnesCount32(a))
	}
}

func unary64(op wasm.Opcode, a uint64) uint64 {
	switch op {
	case wasm.OpI64Clz:
		return uint64(bits.LeadingZeros64(a))
	case wasm.OpI64Ctz:
		return uint64(bits.TrailingZeros64(a))
	default: // OpI64Popcnt
		return uint64(bits.OnesCount64(a))
	}
}

func binary32(op wasm.Opcode, a, b uint32) uint32 {
	switch op {
	case wasm.OpI32Add:
		return a + b
	case wasm.OpI32Sub:
		return a - b
	case wasm.OpI32Mul:
		return a * b
	case wasm.OpI32DivS:
		if b == 0 {
			trap(ErrIntegerDivideByZero)
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			trap(ErrIntegerOverflow)
		}
		return uint32(int32(a) / int32(b))
	case wasm.OpI32DivU:
		if b == 0 {
			trap(ErrIntegerDivideByZero)
		}
		return a / b
	case wasm.OpI32RemS:
		if b == 0 {
			trap(ErrIntegerDivideByZero)
		}
		// MinInt32 % -1 is 0, not an overflow
		if int32(b) == -1 {
			return 0
		}
		return uint32(int32(a) % int32(b))
	case wasm.OpI32RemU:
		if b == 0 {
			trap(ErrIntegerDivideByZero)
		}
		return a % b
	case wasm.OpI32And:
		return a & b
	case wasm.OpI32Or:
		return a | b
	case wasm.OpI32Xor:
		return a ^ b
	case wasm.OpI32Shl:
		return a << (b & 31)
	case wasm.OpI32ShrS:
		return uint32(int32(a) >> (b & 31))
	case wasm.OpI32ShrU:
		return a >> (b & 31)
	case wasm.OpI32Rotl:
		return bits.RotateLeft32(a, int(b&31))
	case wasm.OpI32Rotr:
		return bits.RotateLeft32(a, -int(b&31))
	default:
		panic(fmt.Errorf("unhandled i32 binary op %s", op))
	}
}

func binary64(op wasm.Opcode, a, b uint64) uint64 {
	switch op {
	case wasm.OpI64Add:
		return a + b
	case wasm.OpI64Sub:
		return a - b
	case wasm.OpI64Mul:
		return a * b
	case wasm.OpI64DivS:
		if b == 0 {
			trap(ErrIntegerDivideByZero)
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			trap(ErrIntegerOverflow)
		}
		return uint64(int64(a) / int64(b))
	case wasm.OpI64DivU:
		if b == 0 {
			trap(ErrIntegerDivideByZero)
		}
		return a / b
	case wasm.OpI64RemS:
		if b == 0 {
			trap(ErrIntegerDivideByZero)
		}
		if int64(b) == -1 {
			return 0
		}
		return uint64(int64(a) % int64(b))
	case wasm.OpI64RemU:
		if b == 0 {
			trap(ErrIntegerDivideByZero)
		}
		return a % b
	case wasm.OpI64And:
		return a & b
	case wasm.OpI64Or:
		return a | b
	case wasm.OpI64Xor:
		return a ^ b
	case wasm.OpI64Shl:
		return a << (b & 63)
	case wasm.OpI64ShrS:
		return uint64(int64(a) >> (b & 63))
	case wasm.OpI64ShrU:
		return a >> (b & 63)
	case wasm.OpI64Rotl:
		return bits.RotateLeft64(a, int(b&63))
	case wasm.OpI64Rotr:
		return bits.RotateLeft64(a, -int(b&63))
	default:
		panic(fmt.Errorf("unhandled i64 binary op %s", op))
	}
}

func (s *VMState) convert(op wasm.Opcode) {
	switch op {
	case wasm.OpI32WrapI64:
		s.pushI32(uint32(s.pop().U64()))
	case wasm.OpI64ExtendI32S:
		s.pushI64(uint64(int64(s.pop().I32())))
	case wasm.OpI64ExtendI32U:
		s.pushI64(uint64(s.pop().U32()))
	case wasm.OpI32Extend8S:
		s.pushI32(uint32(int32(int8(s.pop().U32()))))
	case wasm.OpI32Extend16S:
		s.pushI32(uint32(int32(int16(s.pop().U32()))))
	case wasm.OpI64Extend8S:
		s.pushI64(uint64(int64(int8(s.pop().U64()))))
	case wasm.OpI64Extend16S:
		s.pushI64(uint64(int64(int16(s.pop().U64()))))
	case wasm.OpI64Extend32S:
		s.pushI64(uint64(int64(int32(s.pop().U64()))))
	default:
		panic(fmt.Errorf("unsupported opcode %s", op))
	}
}
