package fast

import (
	"fmt"

	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

// Status is the lifecycle of a single invocation: Loaded -> Running -> {Returned | Trapped}.
type Status uint8

const (
	StatusLoaded Status = iota
	StatusRunning
	StatusReturned
	StatusTrapped
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusRunning:
		return "running"
	case StatusReturned:
		return "returned"
	case StatusTrapped:
		return "trapped"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Frame is the activation of one function call.
type Frame struct {
	Func   uint32       `json:"func"`
	PC     uint32       `json:"pc"`
	Locals []wasm.Value `json:"locals"`

	// StackBase is the operand stack height below which the frame may not pop.
	StackBase uint32 `json:"stackBase"`

	// LabelBase is the number of labels owned by callers.
	LabelBase uint32 `json:"labelBase"`
}

// Label is an active block, loop or if.
type Label struct {
	Op     wasm.Opcode `json:"op"`
	Resume uint32      `json:"resume"`
	Height uint32      `json:"height"`
	Arity  uint8       `json:"arity"`
}

// TrapInfo is the recorded position and cause of a trap.
type TrapInfo struct {
	Func  uint32      `json:"func"`
	PC    uint32      `json:"pc"`
	Op    wasm.Opcode `json:"op"`
	Cause string      `json:"cause"`

	// Panic is set when the fault was not a WebAssembly trap but an interpreter defect.
	Panic bool `json:"panic,omitempty"`
}

type VMState struct {
	Module *module.Module `json:"-"`
	Export string         `json:"export"`

	Frames []Frame      `json:"frames"`
	Stack  []wasm.Value `json:"stack"`
	Labels []Label      `json:"labels"`
	Status Status       `json:"status"`
	Step   uint64       `json:"step"`

	Results []wasm.Value `json:"results,omitempty"`
	Trap    *TrapInfo    `json:"trap,omitempty"`
}

// NewVMState prepares the invocation of an exported function.
// Arguments are checked against the signature before any state is created.
func NewVMState(mod *module.Module, export string, args []wasm.Value) (*VMState, error) {
	fn, ok := mod.Export(export)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExportNotFound, export)
	}
	params := fn.Type.Params
	if len(args) != len(params) {
		return nil, fmt.Errorf("%w: %q expects %d arguments, got %d", ErrArgumentTypeMismatch, export, len(params), len(args))
	}
	for i, arg := range args {
		if arg.Type != params[i] {
			return nil, fmt.Errorf("%w: argument %d of %q must be %s, got %s", ErrArgumentTypeMismatch, i, export, params[i], arg.Type)
		}
		if arg.Type == wasm.ValueTypeI32 && arg.Bits>>32 != 0 {
			return nil, fmt.Errorf("%w: argument %d of %q has i32 type but 64-bit payload %#x", ErrArgumentTypeMismatch, i, export, arg.Bits)
		}
	}
	return &VMState{
		Module: mod,
		Export: export,
		Frames: []Frame{newFrame(fn, args, 0, 0)},
		Status: StatusLoaded,
	}, nil
}

func newFrame(fn *module.Function, args []wasm.Value, stackBase, labelBase int) Frame {
	locals := make([]wasm.Value, 0, fn.NumLocals())
	locals = append(locals, args...)
	for _, t := range fn.Locals {
		locals = append(locals, wasm.Zero(t))
	}
	return Frame{
		Func:      fn.Index,
		Locals:    locals,
		StackBase: uint32(stackBase),
		LabelBase: uint32(labelBase),
	}
}

// Done reports whether the invocation returned or trapped.
func (s *VMState) Done() bool {
	return s.Status == StatusReturned || s.Status == StatusTrapped
}

// VMStatus maps the lifecycle onto the status code committed in state hashes.
func (s *VMState) VMStatus() uint8 {
	switch s.Status {
	case StatusReturned:
		return wasm.VMStatusValid
	case StatusTrapped:
		if s.Trap != nil && s.Trap.Panic {
			return wasm.VMStatusPanic
		}
		return wasm.VMStatusInvalid
	default:
		return wasm.VMStatusUnfinished
	}
}

// checkFrames rejects an unfinished state that has no frame left to execute.
func (s *VMState) checkFrames() error {
	if !s.Done() && len(s.Frames) == 0 {
		return fmt.Errorf("%w: %s state of %q has no active frame", ErrInvalidState, s.Status, s.Export)
	}
	return nil
}

// Current returns the active frame and its function, or nil when no frame is active.
func (s *VMState) Current() (*Frame, *module.Function) {
	if len(s.Frames) == 0 {
		return nil, nil
	}
	f := &s.Frames[len(s.Frames)-1]
	return f, s.Module.Functions[f.Func]
}

// Instr returns the instruction about to execute.
func (s *VMState) Instr() (module.Instr, bool) {
	f, fn := s.Current()
	if f == nil || int(f.PC) >= len(fn.Body) {
		return module.Instr{}, false
	}
	return fn.Body[f.PC], true
}

// TrapError returns the recorded trap as an error, or nil.
func (s *VMState) TrapError() error {
	if s.Trap == nil {
		return nil
	}
	return &TrapError{Func: s.Trap.Func, PC: s.Trap.PC, Op: s.Trap.Op, Cause: trapCause(s.Trap.Cause)}
}

var trapCauses = []error{
	ErrUnreachable, ErrIntegerDivideByZero, ErrIntegerOverflow, ErrStackUnderflow,
	ErrCallStackExhausted, ErrInvalidBranch, ErrInvalidLocal, ErrPCOutOfRange,
}

// trapCause restores the sentinel error of a trap loaded from a serialized state.
func trapCause(msg string) error {
	for _, err := range trapCauses {
		if err.Error() == msg {
			return err
		}
	}
	return fmt.Errorf("%s", msg)
}
