package fast

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

// StateWitness is the canonical binary encoding of a VMState.
//
// Layout: module hash (32), status (1), step (8), export name, frames, operand stack,
// labels, results, trap. Counts and lengths are big-endian uint32, values are a type byte
// followed by 8 bytes.
type StateWitness []byte

const stateWitnessMinSize = 32 + 1 + 8

// StateHash is the keccak256 of the witness, with the first byte replaced by the VM status,
// so the status can be read from the hash alone.
func (sw StateWitness) StateHash() (common.Hash, error) {
	if len(sw) < stateWitnessMinSize {
		return common.Hash{}, fmt.Errorf("invalid state witness length %d, expected at least %d", len(sw), stateWitnessMinSize)
	}
	hash := crypto.Keccak256Hash(sw)
	hash[0] = sw[32]
	return hash, nil
}

func (sw StateWitness) VMStatus() uint8 {
	if len(sw) < stateWitnessMinSize {
		return wasm.VMStatusInvalid
	}
	return sw[32]
}

func appendValue(out []byte, v wasm.Value) []byte {
	out = append(out, byte(v.Type))
	return binary.BigEndian.AppendUint64(out, v.Bits)
}

func appendValues(out []byte, vs []wasm.Value) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(vs)))
	for _, v := range vs {
		out = appendValue(out, v)
	}
	return out
}

func appendString(out []byte, s string) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
	return append(out, s...)
}

func (s *VMState) EncodeWitness() StateWitness {
	out := make([]byte, 0, 128)
	var modHash common.Hash
	if s.Module != nil {
		modHash = s.Module.Hash()
	}
	out = append(out, modHash[:]...)
	out = append(out, s.VMStatus())
	out = binary.BigEndian.AppendUint64(out, s.Step)
	out = appendString(out, s.Export)

	out = binary.BigEndian.AppendUint32(out, uint32(len(s.Frames)))
	for _, f := range s.Frames {
		out = binary.BigEndian.AppendUint32(out, f.Func)
		out = binary.BigEndian.AppendUint32(out, f.PC)
		out = binary.BigEndian.AppendUint32(out, f.StackBase)
		out = binary.BigEndian.AppendUint32(out, f.LabelBase)
		out = appendValues(out, f.Locals)
	}
	out = appendValues(out, s.Stack)

	out = binary.BigEndian.AppendUint32(out, uint32(len(s.Labels)))
	for _, l := range s.Labels {
		out = append(out, byte(l.Op))
		out = binary.BigEndian.AppendUint32(out, l.Resume)
		out = binary.BigEndian.AppendUint32(out, l.Height)
		out = append(out, l.Arity)
	}
	out = appendValues(out, s.Results)

	if s.Trap == nil {
		out = append(out, 0)
	} else {
		out = append(out, 1)
		out = binary.BigEndian.AppendUint32(out, s.Trap.Func)
		out = binary.BigEndian.AppendUint32(out, s.Trap.PC)
		out = append(out, byte(s.Trap.Op))
		if s.Trap.Panic {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		out = appendString(out, s.Trap.Cause)
	}
	return out
}

// StepWitness captures a single step for later re-execution.
type StepWitness struct {
	// encoded pre-state witness
	State StateWitness

	// the instruction executed by the step
	Instr module.Instr

	PostState StateWitness
}

var errShortWitness = errors.New("short state witness")

type witnessReader struct {
	buf []byte
	err error
}

func (r *witnessReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = errShortWitness
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *witnessReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *witnessReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *witnessReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *witnessReader) str() string {
	return string(r.take(int(r.u32())))
}

func (r *witnessReader) values() []wasm.Value {
	n := r.u32()
	if r.err != nil || uint64(n)*9 > uint64(len(r.buf)) {
		r.err = errShortWitness
		return nil
	}
	if n == 0 {
		return nil
	}
	out := make([]wasm.Value, n)
	for i := range out {
		out[i] = wasm.Value{Type: wasm.ValueType(r.u8()), Bits: r.u64()}
	}
	return out
}

// DecodeWitness restores a VMState from its witness encoding.
// The module is not part of the witness; its hash must match mod.
func DecodeWitness(mod *module.Module, sw StateWitness) (*VMState, error) {
	if len(sw) < stateWitnessMinSize {
		return nil, fmt.Errorf("invalid state witness length %d", len(sw))
	}
	if modHash := common.BytesToHash(sw[:32]); modHash != mod.Hash() {
		return nil, fmt.Errorf("witness is for module %s, not %s", modHash, mod.Hash())
	}
	r := &witnessReader{buf: sw[33:]}
	s := &VMState{Module: mod}
	s.Step = r.u64()
	s.Export = r.str()
	nFrames := r.u32()
	if r.err == nil && uint64(nFrames) > uint64(wasm.MaxCallDepth) {
		return nil, fmt.Errorf("witness has %d frames, more than the call depth limit", nFrames)
	}
	for i := uint32(0); i < nFrames && r.err == nil; i++ {
		f := Frame{Func: r.u32(), PC: r.u32(), StackBase: r.u32(), LabelBase: r.u32()}
		f.Locals = r.values()
		if int(f.Func) >= len(mod.Functions) {
			return nil, fmt.Errorf("frame %d refers to unknown function %d", i, f.Func)
		}
		s.Frames = append(s.Frames, f)
	}
	s.Stack = r.values()
	nLabels := r.u32()
	if r.err == nil && uint64(nLabels)*10 > uint64(len(r.buf)) {
		r.err = errShortWitness
	}
	for i := uint32(0); i < nLabels && r.err == nil; i++ {
		s.Labels = append(s.Labels, Label{Op: wasm.Opcode(r.u8()), Resume: r.u32(), Height: r.u32(), Arity: r.u8()})
	}
	s.Results = r.values()
	if r.u8() == 1 {
		s.Trap = &TrapInfo{Func: r.u32(), PC: r.u32(), Op: wasm.Opcode(r.u8())}
		s.Trap.Panic = r.u8() == 1
		s.Trap.Cause = r.str()
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%d trailing bytes in state witness", len(r.buf))
	}
	switch status := sw[32]; {
	case status == wasm.VMStatusValid:
		s.Status = StatusReturned
	case status == wasm.VMStatusInvalid || status == wasm.VMStatusPanic:
		if s.Trap == nil {
			return nil, fmt.Errorf("trapped witness without trap info")
		}
		s.Status = StatusTrapped
	case s.Step == 0:
		s.Status = StatusLoaded
	default:
		s.Status = StatusRunning
	}
	if err := s.checkFrames(); err != nil {
		return nil, err
	}
	return s, nil
}
