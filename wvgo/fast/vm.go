package fast

import (
	"fmt"

	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

// Step executes a single instruction.
// A trap halts the invocation: the frames are discarded, the trap is recorded in the state and returned.
// Stepping a returned or trapped state is a no-op.
func Step(s *VMState) (outErr error) {
	if s.Done() {
		return nil
	}
	f, fn := s.Current()
	if f == nil {
		return fmt.Errorf("state of %q has no active frame", s.Export)
	}
	funcIdx, pc := f.Func, f.PC
	var op wasm.Opcode
	defer func() {
		if r := recover(); r != nil {
			info := &TrapInfo{Func: funcIdx, PC: pc, Op: op}
			if sig, ok := r.(trapSignal); ok {
				info.Cause = sig.cause.Error()
			} else {
				info.Cause = fmt.Sprintf("interpreter panic: %v", r)
				info.Panic = true
			}
			s.halt(info)
			outErr = s.TrapError()
		}
	}()

	s.Status = StatusRunning
	s.Step++
	if int(pc) >= len(fn.Body) {
		trap(ErrPCOutOfRange)
	}
	in := fn.Body[pc]
	op = in.Op
	s.exec(f, fn, in)
	return nil
}

func (s *VMState) halt(info *TrapInfo) {
	s.Status = StatusTrapped
	s.Trap = info
	s.Frames = nil
	s.Stack = nil
	s.Labels = nil
}

func (s *VMState) push(v wasm.Value) {
	s.Stack = append(s.Stack, v)
}

func (s *VMState) pop() wasm.Value {
	f := &s.Frames[len(s.Frames)-1]
	if len(s.Stack) <= int(f.StackBase) {
		trap(ErrStackUnderflow)
	}
	v := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	return v
}

// popN pops n values and returns them in stack order.
func (s *VMState) popN(n int) []wasm.Value {
	f := &s.Frames[len(s.Frames)-1]
	if len(s.Stack)-n < int(f.StackBase) {
		trap(ErrStackUnderflow)
	}
	out := make([]wasm.Value, n)
	copy(out, s.Stack[len(s.Stack)-n:])
	s.Stack = s.Stack[:len(s.Stack)-n]
	return out
}

func (s *VMState) local(f *Frame, idx uint64) *wasm.Value {
	if idx >= uint64(len(f.Locals)) {
		trap(ErrInvalidLocal)
	}
	return &f.Locals[idx]
}

func (s *VMState) pushLabel(op wasm.Opcode, resume uint32, arity int) {
	s.Labels = append(s.Labels, Label{
		Op:     op,
		Resume: resume,
		Height: uint32(len(s.Stack)),
		Arity:  uint8(arity),
	})
}

func (s *VMState) exec(f *Frame, fn *module.Function, in module.Instr) {
	switch in.Op {
	case wasm.OpUnreachable:
		trap(ErrUnreachable)
	case wasm.OpNop:
		f.PC++
	case wasm.OpBlock:
		s.pushLabel(in.Op, in.End+1, in.BlockArity())
		f.PC++
	case wasm.OpLoop:
		// branching to a loop resumes at its first instruction, the label stays active
		s.pushLabel(in.Op, f.PC+1, 0)
		f.PC++
	case wasm.OpIf:
		cond := s.pop().U32()
		switch {
		case cond != 0:
			s.pushLabel(in.Op, in.End+1, in.BlockArity())
			f.PC++
		case in.Else != in.End:
			s.pushLabel(in.Op, in.End+1, in.BlockArity())
			f.PC = in.Else + 1
		default:
			f.PC = in.End + 1
		}
	case wasm.OpElse:
		// the then-branch completed, leave the if block
		s.Labels = s.Labels[:len(s.Labels)-1]
		f.PC = in.End + 1
	case wasm.OpEnd:
		if int(f.PC) == len(fn.Body)-1 {
			s.doReturn(fn)
			return
		}
		if len(s.Labels) <= int(f.LabelBase) {
			trap(ErrInvalidBranch)
		}
		s.Labels = s.Labels[:len(s.Labels)-1]
		f.PC++
	case wasm.OpBr:
		s.branch(f, fn, in.Imm)
	case wasm.OpBrIf:
		if s.pop().U32() != 0 {
			s.branch(f, fn, in.Imm)
		} else {
			f.PC++
		}
	case wasm.OpReturn:
		s.doReturn(fn)
	case wasm.OpCall:
		s.call(f, in.Imm)
	case wasm.OpDrop:
		s.pop()
		f.PC++
	case wasm.OpSelect:
		cond := s.pop().U32()
		b := s.pop()
		a := s.pop()
		if cond != 0 {
			s.push(a)
		} else {
			s.push(b)
		}
		f.PC++
	case wasm.OpLocalGet:
		s.push(*s.local(f, in.Imm))
		f.PC++
	case wasm.OpLocalSet:
		v := s.pop()
		*s.local(f, in.Imm) = v
		f.PC++
	case wasm.OpLocalTee:
		// write the top of the stack without consuming it
		v := s.pop()
		*s.local(f, in.Imm) = v
		s.push(v)
		f.PC++
	case wasm.OpI32Const:
		s.push(wasm.Value{Type: wasm.ValueTypeI32, Bits: in.Imm})
		f.PC++
	case wasm.OpI64Const:
		s.push(wasm.Value{Type: wasm.ValueTypeI64, Bits: in.Imm})
		f.PC++
	default:
		s.numeric(in.Op)
		f.PC++
	}
}

// branch exits depth labels, keeping the target's arity values on the stack.
// A branch past the outermost label returns from the function.
func (s *VMState) branch(f *Frame, fn *module.Function, depth uint64) {
	active := uint64(len(s.Labels)) - uint64(f.LabelBase)
	if depth == active {
		s.doReturn(fn)
		return
	}
	if depth > active {
		trap(ErrInvalidBranch)
	}
	targetIdx := len(s.Labels) - 1 - int(depth)
	target := s.Labels[targetIdx]
	arity := int(target.Arity)
	if len(s.Stack)-arity < int(target.Height) {
		trap(ErrStackUnderflow)
	}
	s.Stack = append(s.Stack[:target.Height], s.Stack[len(s.Stack)-arity:]...)
	if target.Op == wasm.OpLoop {
		s.Labels = s.Labels[:targetIdx+1]
	} else {
		s.Labels = s.Labels[:targetIdx]
	}
	f.PC = target.Resume
}

// doReturn pops the frame and hands its results to the caller,
// or finishes the invocation when the outermost frame returns.
func (s *VMState) doReturn(fn *module.Function) {
	results := s.popN(len(fn.Type.Results))
	f := s.Frames[len(s.Frames)-1]
	s.Stack = s.Stack[:f.StackBase]
	s.Labels = s.Labels[:f.LabelBase]
	s.Frames = s.Frames[:len(s.Frames)-1]
	if len(s.Frames) == 0 {
		s.Status = StatusReturned
		s.Results = results
		s.Stack = nil
		s.Labels = nil
		s.Frames = nil
		return
	}
	s.Stack = append(s.Stack, results...)
}

func (s *VMState) call(f *Frame, funcIdx uint64) {
	if len(s.Frames) >= wasm.MaxCallDepth {
		trap(ErrCallStackExhausted)
	}
	callee := s.Module.Functions[funcIdx]
	args := s.popN(len(callee.Type.Params))
	// the caller resumes after the call once the callee returns
	f.PC++
	s.Frames = append(s.Frames, newFrame(callee, args, len(s.Stack), len(s.Labels)))
}
