package fast

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

var (
	ErrExportNotFound       = errors.New("export not found")
	ErrArgumentTypeMismatch = errors.New("argument type mismatch")
	ErrTrap                 = errors.New("trap")
	ErrStepBudgetExhausted  = errors.New("step budget exhausted")
	ErrNotFinished          = errors.New("execution not finished")
	ErrInvalidState         = errors.New("invalid state")
)

// Trap causes.
var (
	ErrUnreachable         = errors.New("unreachable executed")
	ErrIntegerDivideByZero = errors.New("integer divide by zero")
	ErrIntegerOverflow     = errors.New("integer overflow")
	ErrStackUnderflow      = errors.New("operand stack underflow")
	ErrCallStackExhausted  = errors.New("call stack exhausted")
	ErrInvalidBranch       = errors.New("invalid branch depth")
	ErrInvalidLocal        = errors.New("invalid local index")
	ErrPCOutOfRange        = errors.New("program counter out of range")
)

// TrapError reports a runtime fault with the position of the faulting instruction.
type TrapError struct {
	Func  uint32
	PC    uint32
	Op    wasm.Opcode
	Cause error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("trap in function %d at instruction %d (%s): %v", e.Func, e.PC, e.Op, e.Cause)
}

func (e *TrapError) Unwrap() []error {
	return []error{ErrTrap, e.Cause}
}

// trapSignal carries a trap cause through panic/recover inside a single step.
type trapSignal struct {
	cause error
}

func trap(cause error) {
	panic(trapSignal{cause: cause})
}
