package module

import (
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

// valueTypeUnknown is the polymorphic stack type produced after unconditional branches.
const valueTypeUnknown = wasm.ValueType(0)

type controlBlock struct {
	op          wasm.Opcode
	pos         int
	elsePos     int
	results     []wasm.ValueType
	height      int
	unreachable bool
}

// labelTypes are the types a branch to this block must provide.
func (c *controlBlock) labelTypes() []wasm.ValueType {
	if c.op == wasm.OpLoop {
		return nil
	}
	return c.results
}

type bodyValidator struct {
	m      *Module
	fn     *Function
	r      *reader
	vals   []wasm.ValueType
	ctrls  []*controlBlock
	instrs []Instr
	// opOffset is the offset of the instruction being validated
	opOffset int
}

func (v *bodyValidator) push(t wasm.ValueType) {
	v.vals = append(v.vals, t)
}

func (v *bodyValidator) pop() (wasm.ValueType, error) {
	top := v.ctrls[len(v.ctrls)-1]
	if len(v.vals) == top.height {
		if top.unreachable {
			return valueTypeUnknown, nil
		}
		return 0, malformed(v.opOffset, "type mismatch: operand stack underflow in function %d", v.fn.Index)
	}
	t := v.vals[len(v.vals)-1]
	v.vals = v.vals[:len(v.vals)-1]
	return t, nil
}

func (v *bodyValidator) popExpect(expected wasm.ValueType) (wasm.ValueType, error) {
	actual, err := v.pop()
	if err != nil {
		return 0, err
	}
	if actual != expected && actual != valueTypeUnknown && expected != valueTypeUnknown {
		return 0, malformed(v.opOffset, "type mismatch: expected %s, got %s in function %d", expected, actual, v.fn.Index)
	}
	return actual, nil
}

func (v *bodyValidator) popAll(types []wasm.ValueType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if _, err := v.popExpect(types[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *bodyValidator) markUnreachable() {
	top := v.ctrls[len(v.ctrls)-1]
	v.vals = v.vals[:top.height]
	top.unreachable = true
}

// checkBlockEnd verifies the stack holds exactly the block results.
func (v *bodyValidator) checkBlockEnd(c *controlBlock) error {
	if err := v.popAll(c.results); err != nil {
		return err
	}
	if len(v.vals) != c.height {
		return malformed(v.opOffset, "type mismatch: %d values left on stack at end of block in function %d", len(v.vals)-c.height, v.fn.Index)
	}
	return nil
}

func (v *bodyValidator) emit(in Instr) int {
	v.instrs = append(v.instrs, in)
	return len(v.instrs) - 1
}

func (v *bodyValidator) readBlockType() (uint64, []wasm.ValueType, error) {
	b, err := v.r.readByte()
	if err != nil {
		return 0, nil, err
	}
	if b == wasm.BlockTypeEmpty {
		return uint64(b), nil, nil
	}
	t := wasm.ValueType(b)
	if t.Known() {
		if !t.Integer() {
			return 0, nil, unsupported(v.opOffset, "block type %s", t)
		}
		return uint64(b), []wasm.ValueType{t}, nil
	}
	return 0, nil, unsupported(v.opOffset, "type-indexed block type")
}

func (v *bodyValidator) readLocalIndex() (uint32, wasm.ValueType, error) {
	idx, err := v.r.readU32()
	if err != nil {
		return 0, 0, err
	}
	if int(idx) >= v.fn.NumLocals() {
		return 0, 0, malformed(v.opOffset, "local index %d out of range in function %d (%d locals)", idx, v.fn.Index, v.fn.NumLocals())
	}
	return idx, v.fn.LocalType(idx), nil
}

func (v *bodyValidator) readLabel() (uint32, *controlBlock, error) {
	depth, err := v.r.readU32()
	if err != nil {
		return 0, nil, err
	}
	if int(depth) >= len(v.ctrls) {
		return 0, nil, malformed(v.opOffset, "branch depth %d out of range in function %d (%d labels)", depth, v.fn.Index, len(v.ctrls))
	}
	return depth, v.ctrls[len(v.ctrls)-1-int(depth)], nil
}

// validateBody decodes a function body into instructions and type-checks it.
func (m *Module) validateBody(r *reader, fn *Function) ([]Instr, error) {
	v := &bodyValidator{
		m:  m,
		fn: fn,
		r:  r,
		// the function body is the outermost block, a branch to it is a return
		ctrls: []*controlBlock{{op: wasm.OpBlock, pos: -1, elsePos: -1, results: fn.Type.Results}},
	}
	for len(v.ctrls) > 0 {
		if err := v.step(); err != nil {
			return nil, err
		}
	}
	if !r.done() {
		return nil, malformed(r.offset(), "trailing bytes after end of function %d", fn.Index)
	}
	return v.instrs, nil
}

func (v *bodyValidator) step() error {
	v.opOffset = v.r.offset()
	if v.r.done() {
		return malformed(v.opOffset, "function %d body is missing end", v.fn.Index)
	}
	b, err := v.r.readByte()
	if err != nil {
		return err
	}
	op := wasm.Opcode(b)
	if !op.Supported() {
		return unsupported(v.opOffset, "opcode %s", op)
	}

	switch op {
	case wasm.OpUnreachable:
		v.emit(Instr{Op: op})
		v.markUnreachable()
	case wasm.OpNop:
		v.emit(Instr{Op: op})
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		bt, results, err := v.readBlockType()
		if err != nil {
			return err
		}
		if op == wasm.OpIf {
			if _, err := v.popExpect(wasm.ValueTypeI32); err != nil {
				return err
			}
		}
		pos := v.emit(Instr{Op: op, Imm: bt})
		v.ctrls = append(v.ctrls, &controlBlock{op: op, pos: pos, elsePos: -1, results: results, height: len(v.vals)})
	case wasm.OpElse:
		top := v.ctrls[len(v.ctrls)-1]
		if top.op != wasm.OpIf || top.elsePos >= 0 {
			return malformed(v.opOffset, "else without matching if in function %d", v.fn.Index)
		}
		if err := v.checkBlockEnd(top); err != nil {
			return err
		}
		top.elsePos = v.emit(Instr{Op: op})
		v.instrs[top.pos].Else = uint32(top.elsePos)
		top.unreachable = false
	case wasm.OpEnd:
		top := v.ctrls[len(v.ctrls)-1]
		if err := v.checkBlockEnd(top); err != nil {
			return err
		}
		if top.op == wasm.OpIf && top.elsePos < 0 && len(top.results) > 0 {
			return malformed(v.opOffset, "type mismatch: if without else must not produce values in function %d", v.fn.Index)
		}
		end := uint32(v.emit(Instr{Op: op}))
		if top.pos >= 0 {
			v.instrs[top.pos].End = end
			if top.op == wasm.OpIf && top.elsePos < 0 {
				v.instrs[top.pos].Else = end
			}
		}
		if top.elsePos >= 0 {
			v.instrs[top.elsePos].End = end
		}
		v.ctrls = v.ctrls[:len(v.ctrls)-1]
		for _, t := range top.results {
			v.push(t)
		}
	case wasm.OpBr:
		depth, target, err := v.readLabel()
		if err != nil {
			return err
		}
		if err := v.popAll(target.labelTypes()); err != nil {
			return err
		}
		v.emit(Instr{Op: op, Imm: uint64(depth)})
		v.markUnreachable()
	case wasm.OpBrIf:
		depth, target, err := v.readLabel()
		if err != nil {
			return err
		}
		if _, err := v.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		types := target.labelTypes()
		if err := v.popAll(types); err != nil {
			return err
		}
		for _, t := range types {
			v.push(t)
		}
		v.emit(Instr{Op: op, Imm: uint64(depth)})
	case wasm.OpReturn:
		if err := v.popAll(v.fn.Type.Results); err != nil {
			return err
		}
		v.emit(Instr{Op: op})
		v.markUnreachable()
	case wasm.OpCall:
		idx, err := v.r.readU32()
		if err != nil {
			return err
		}
		if idx >= uint32(len(v.m.Functions)) {
			return malformed(v.opOffset, "call to unknown function %d in function %d", idx, v.fn.Index)
		}
		callee := v.m.Functions[idx].Type
		if err := v.popAll(callee.Params); err != nil {
			return err
		}
		for _, t := range callee.Results {
			v.push(t)
		}
		v.emit(Instr{Op: op, Imm: uint64(idx)})
	case wasm.OpDrop:
		if _, err := v.pop(); err != nil {
			return err
		}
		v.emit(Instr{Op: op})
	case wasm.OpSelect:
		if _, err := v.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		t1, err := v.pop()
		if err != nil {
			return err
		}
		t2, err := v.popExpect(t1)
		if err != nil {
			return err
		}
		if t1 == valueTypeUnknown {
			t1 = t2
		}
		v.push(t1)
		v.emit(Instr{Op: op})
	case wasm.OpLocalGet:
		idx, t, err := v.readLocalIndex()
		if err != nil {
			return err
		}
		v.push(t)
		v.emit(Instr{Op: op, Imm: uint64(idx)})
	case wasm.OpLocalSet, wasm.OpLocalTee:
		idx, t, err := v.readLocalIndex()
		if err != nil {
			return err
		}
		if _, err := v.popExpect(t); err != nil {
			return err
		}
		if op == wasm.OpLocalTee {
			v.push(t)
		}
		v.emit(Instr{Op: op, Imm: uint64(idx)})
	case wasm.OpI32Const:
		c, err := v.r.readS32()
		if err != nil {
			return err
		}
		v.push(wasm.ValueTypeI32)
		v.emit(Instr{Op: op, Imm: uint64(uint32(c))})
	case wasm.OpI64Const:
		c, err := v.r.readS64()
		if err != nil {
			return err
		}
		v.push(wasm.ValueTypeI64)
		v.emit(Instr{Op: op, Imm: uint64(c)})
	default:
		sig, ok := numericSignatures[op]
		if !ok {
			return unsupported(v.opOffset, "opcode %s", op)
		}
		if err := v.popAll(sig.in); err != nil {
			return err
		}
		v.push(sig.out)
		v.emit(Instr{Op: op})
	}
	return nil
}

type numericSignature struct {
	in  []wasm.ValueType
	out wasm.ValueType
}

var numericSignatures = func() map[wasm.Opcode]numericSignature {
	i32, i64 := wasm.ValueTypeI32, wasm.ValueTypeI64
	out := make(map[wasm.Opcode]numericSignature)
	set := func(from, to wasm.Opcode, sig numericSignature) {
		for op := from; op <= to; op++ {
			out[op] = sig
		}
	}
	set(wasm.OpI32Eqz, wasm.OpI32Eqz, numericSignature{in: []wasm.ValueType{i32}, out: i32})
	set(wasm.OpI32Eq, wasm.OpI32GeU, numericSignature{in: []wasm.ValueType{i32, i32}, out: i32})
	set(wasm.OpI64Eqz, wasm.OpI64Eqz, numericSignature{in: []wasm.ValueType{i64}, out: i32})
	set(wasm.OpI64Eq, wasm.OpI64GeU, numericSignature{in: []wasm.ValueType{i64, i64}, out: i32})
	set(wasm.OpI32Clz, wasm.OpI32Popcnt, numericSignature{in: []wasm.ValueType{i32}, out: i32})
	set(wasm.OpI32Add, wasm.OpI32Rotr, numericSignature{in: []wasm.ValueType{i32, i32}, out: i32})
	set(wasm.OpI64Clz, wasm.OpI64Popcnt, numericSignature{in: []wasm.ValueType{i64}, out: i64})
	set(wasm.OpI64Add, wasm.OpI64Rotr, numericSignature{in: []wasm.ValueType{i64, i64}, out: i64})
	set(wasm.OpI32WrapI64, wasm.OpI32WrapI64, numericSignature{in: []wasm.ValueType{i64}, out: i32})
	set(wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U, numericSignature{in: []wasm.ValueType{i32}, out: i64})
	set(wasm.OpI32Extend8S, wasm.OpI32Extend16S, numericSignature{in: []wasm.ValueType{i32}, out: i32})
	set(wasm.OpI64Extend8S, wasm.OpI64Extend32S, numericSignature{in: []wasm.ValueType{i64}, out: i64})
	return out
}()
