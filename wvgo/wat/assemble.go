// Package wat assembles the WebAssembly text format into binary modules.
//
// It covers the subset the interpreter executes: functions with i32/i64 params, results
// and locals, inline and module-level function exports, and the integer and control
// instructions in both flat and folded form. $names may be used for functions, locals
// and labels.
package wat

import (
	"strconv"
	"strings"

	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

type funcDef struct {
	name   string
	pos    Position
	ft     module.FuncType
	locals []wasm.ValueType
	// names of params and locals, by index
	localNames map[string]uint32
	body       []*node
}

type exportDef struct {
	name   string
	target *node
}

type assembler struct {
	funcs     []*funcDef
	funcNames map[string]uint32
	exports   []exportDef
}

// Assemble translates WAT source into a binary module.
func Assemble(src string) ([]byte, error) {
	nodes, err := parse(src)
	if err != nil {
		return nil, err
	}
	fields, err := moduleFields(nodes)
	if err != nil {
		return nil, err
	}
	a := &assembler{funcNames: make(map[string]uint32)}
	for _, f := range fields {
		if err := a.field(f); err != nil {
			return nil, err
		}
	}

	b := module.NewBuilder()
	for _, fn := range a.funcs {
		body, err := a.compile(fn)
		if err != nil {
			return nil, err
		}
		b.AddFunction(fn.ft, fn.locals, body)
	}
	for _, ex := range a.exports {
		idx, err := a.funcIndex(ex.target)
		if err != nil {
			return nil, err
		}
		b.Export(ex.name, idx)
	}
	return b.Bytes(), nil
}

// AssembleModule assembles and decodes, so the result is validated.
func AssembleModule(src string) (*module.Module, error) {
	bin, err := Assemble(src)
	if err != nil {
		return nil, err
	}
	return module.Decode(bin)
}

// moduleFields unwraps an optional (module $id? ...) around the fields.
func moduleFields(nodes []*node) ([]*node, error) {
	if len(nodes) == 1 && nodes[0].head() == "module" {
		fields := nodes[0].list[1:]
		if len(fields) > 0 && fields[0].isID() {
			fields = fields[1:]
		}
		return fields, nil
	}
	for _, n := range nodes {
		if n.head() == "module" {
			return nil, syntaxErr(n.tok.Pos, "module must be the only top-level form")
		}
	}
	return nodes, nil
}

func (a *assembler) field(n *node) error {
	switch h := n.head(); h {
	case "func":
		return a.funcField(n)
	case "export":
		return a.exportField(n)
	case "":
		return syntaxErr(n.tok.Pos, "expected module field, got %s", n)
	case "type", "import", "memory", "table", "global", "data", "elem", "start", "tag":
		return unsupportedErr(n.tok.Pos, "%s fields", h)
	default:
		return syntaxErr(n.tok.Pos, "unknown module field %q", h)
	}
}

func (a *assembler) exportField(n *node) error {
	if len(n.list) != 3 || n.list[1].tok.Type != tokString {
		return syntaxErr(n.tok.Pos, "expected (export \"name\" (func idx))")
	}
	desc := n.list[2]
	switch desc.head() {
	case "func":
		if len(desc.list) != 2 {
			return syntaxErr(desc.tok.Pos, "expected (func idx)")
		}
	case "memory", "table", "global":
		return unsupportedErr(desc.tok.Pos, "%s exports", desc.head())
	default:
		return syntaxErr(desc.tok.Pos, "expected export descriptor, got %s", desc)
	}
	a.exports = append(a.exports, exportDef{name: n.list[1].tok.Text, target: desc.list[1]})
	return nil
}

func (a *assembler) funcField(n *node) error {
	fn := &funcDef{pos: n.tok.Pos, localNames: make(map[string]uint32)}
	idx := uint32(len(a.funcs))
	rest := n.list[1:]
	if len(rest) > 0 && rest[0].isID() {
		fn.name = rest[0].tok.Text
		if _, ok := a.funcNames[fn.name]; ok {
			return syntaxErr(rest[0].tok.Pos, "duplicate function %s", fn.name)
		}
		a.funcNames[fn.name] = idx
		rest = rest[1:]
	}
	numLocals := uint32(0)
	declare := func(list []*node, into *[]wasm.ValueType) error {
		if len(list) > 0 && list[0].isID() {
			// a named declaration holds exactly one type
			if len(list) != 2 {
				return syntaxErr(list[0].tok.Pos, "named declaration %s must have one type", list[0].tok.Text)
			}
			name := list[0].tok.Text
			if _, ok := fn.localNames[name]; ok {
				return syntaxErr(list[0].tok.Pos, "duplicate local %s", name)
			}
			fn.localNames[name] = numLocals
			list = list[1:]
		}
		for _, t := range list {
			vt, err := valueType(t)
			if err != nil {
				return err
			}
			*into = append(*into, vt)
			numLocals++
		}
		return nil
	}
	stage := 0
	for len(rest) > 0 {
		c := rest[0]
		h := c.head()
		switch {
		case h == "export" && stage == 0:
			if len(c.list) != 2 || c.list[1].tok.Type != tokString {
				return syntaxErr(c.tok.Pos, "expected (export \"name\")")
			}
			a.exports = append(a.exports, exportDef{
				name:   c.list[1].tok.Text,
				target: &node{tok: token{Type: tokAtom, Text: strconv.Itoa(int(idx)), Pos: c.tok.Pos}},
			})
		case h == "import" && stage == 0:
			return unsupportedErr(c.tok.Pos, "function imports")
		case h == "type" && stage == 0:
			return unsupportedErr(c.tok.Pos, "type uses")
		case h == "param" && stage <= 1:
			stage = 1
			if err := declare(c.list[1:], &fn.ft.Params); err != nil {
				return err
			}
		case h == "result" && stage <= 2:
			stage = 2
			for _, t := range c.list[1:] {
				vt, err := valueType(t)
				if err != nil {
					return err
				}
				fn.ft.Results = append(fn.ft.Results, vt)
			}
		case h == "local" && stage <= 3:
			stage = 3
			if err := declare(c.list[1:], &fn.locals); err != nil {
				return err
			}
		default:
			fn.body = rest
			rest = nil
			continue
		}
		rest = rest[1:]
	}
	a.funcs = append(a.funcs, fn)
	return nil
}

func valueType(n *node) (wasm.ValueType, error) {
	if !n.isAtom() {
		return 0, syntaxErr(n.tok.Pos, "expected value type, got %s", n)
	}
	t, err := wasm.ParseValueType(n.tok.Text)
	if err != nil {
		return 0, syntaxErr(n.tok.Pos, "%v", err)
	}
	return t, nil
}

func (a *assembler) funcIndex(n *node) (uint32, error) {
	if !n.isAtom() {
		return 0, syntaxErr(n.tok.Pos, "expected function index, got %s", n)
	}
	if n.isID() {
		idx, ok := a.funcNames[n.tok.Text]
		if !ok {
			return 0, syntaxErr(n.tok.Pos, "unknown function %s", n.tok.Text)
		}
		return idx, nil
	}
	return parseIndex(n)
}

func parseIndex(n *node) (uint32, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(n.tok.Text, "_", ""), 0, 32)
	if err != nil {
		return 0, syntaxErr(n.tok.Pos, "invalid index %q", n.tok.Text)
	}
	return uint32(v), nil
}

// parseConst reads an integer literal of the given width.
// Both the signed and the unsigned range are accepted.
func parseConst(n *node, bits int) (int64, error) {
	if !n.isAtom() {
		return 0, syntaxErr(n.tok.Pos, "expected integer literal, got %s", n)
	}
	text := strings.ReplaceAll(n.tok.Text, "_", "")
	if v, err := strconv.ParseInt(text, 0, bits); err == nil {
		return v, nil
	}
	u, err := strconv.ParseUint(strings.TrimPrefix(text, "+"), 0, bits)
	if err != nil {
		return 0, syntaxErr(n.tok.Pos, "invalid i%d literal %q", bits, n.tok.Text)
	}
	if bits == 32 {
		return int64(int32(uint32(u))), nil
	}
	return int64(u), nil
}

func (a *assembler) compile(fn *funcDef) ([]byte, error) {
	c := &funcCompiler{a: a, fn: fn, e: new(module.Expr)}
	cur := &cursor{nodes: fn.body}
	if err := c.seq(cur, false); err != nil {
		return nil, err
	}
	c.e.Op(wasm.OpEnd)
	return c.e.Bytes(), nil
}

type cursor struct {
	nodes []*node
	i     int
}

func (c *cursor) done() bool {
	return c.i >= len(c.nodes)
}

func (c *cursor) peek() *node {
	if c.done() {
		return nil
	}
	return c.nodes[c.i]
}

func (c *cursor) next() *node {
	n := c.peek()
	c.i++
	return n
}

type label struct {
	name string
	op   wasm.Opcode
	// elseSeen is set once a flat if reached its else
	elseSeen bool
}

type funcCompiler struct {
	a      *assembler
	fn     *funcDef
	e      *module.Expr
	labels []label
}

func (c *funcCompiler) pos() Position {
	return c.fn.pos
}

// seq compiles instructions until the cursor is exhausted.
// In a flat block, it stops at the matching end.
func (c *funcCompiler) seq(cur *cursor, flat bool) error {
	for !cur.done() {
		n := cur.next()
		if n.isList() {
			if err := c.folded(n); err != nil {
				return err
			}
			continue
		}
		if !n.isAtom() {
			return syntaxErr(n.tok.Pos, "expected instruction, got %s", n)
		}
		switch n.tok.Text {
		case "block", "loop", "if":
			op, _ := wasm.LookupOpcode(n.tok.Text)
			name, results, err := c.blockHeader(cur)
			if err != nil {
				return err
			}
			c.e.Block(op, results...)
			c.labels = append(c.labels, label{name: name, op: op})
			if err := c.seq(cur, true); err != nil {
				return err
			}
		case "else":
			if !flat || len(c.labels) == 0 {
				return syntaxErr(n.tok.Pos, "else outside of if")
			}
			top := &c.labels[len(c.labels)-1]
			if top.op != wasm.OpIf || top.elseSeen {
				return syntaxErr(n.tok.Pos, "else outside of if")
			}
			top.elseSeen = true
			c.skipLabelRef(cur, top.name)
			c.e.Op(wasm.OpElse)
		case "end":
			if !flat || len(c.labels) == 0 {
				return syntaxErr(n.tok.Pos, "end without block")
			}
			top := c.labels[len(c.labels)-1]
			c.labels = c.labels[:len(c.labels)-1]
			c.skipLabelRef(cur, top.name)
			c.e.Op(wasm.OpEnd)
			return nil
		default:
			op, err := c.opcode(n)
			if err != nil {
				return err
			}
			imm, err := c.immediate(op, n, cur)
			if err != nil {
				return err
			}
			c.emit(op, imm)
		}
	}
	if flat {
		return syntaxErr(c.pos(), "missing end")
	}
	return nil
}

// skipLabelRef consumes the optional repeated label after else/end.
func (c *funcCompiler) skipLabelRef(cur *cursor, name string) {
	if next := cur.peek(); next != nil && next.isID() && name != "" && next.tok.Text == name {
		cur.next()
	}
}

func (c *funcCompiler) blockHeader(cur *cursor) (string, []wasm.ValueType, error) {
	var name string
	if next := cur.peek(); next != nil && next.isID() {
		name = cur.next().tok.Text
	}
	var results []wasm.ValueType
	for {
		next := cur.peek()
		if next == nil {
			break
		}
		switch next.head() {
		case "result":
			cur.next()
			for _, t := range next.list[1:] {
				vt, err := valueType(t)
				if err != nil {
					return "", nil, err
				}
				results = append(results, vt)
			}
			continue
		case "param", "type":
			return "", nil, unsupportedErr(next.tok.Pos, "block %s", next.head())
		}
		break
	}
	if len(results) > 1 {
		return "", nil, unsupportedErr(c.pos(), "multi-value blocks")
	}
	return name, results, nil
}

func (c *funcCompiler) folded(n *node) error {
	if len(n.list) == 0 || !n.list[0].isAtom() {
		return syntaxErr(n.tok.Pos, "expected folded instruction, got %s", n)
	}
	cur := &cursor{nodes: n.list[1:]}
	switch h := n.head(); h {
	case "block", "loop":
		op, _ := wasm.LookupOpcode(h)
		name, results, err := c.blockHeader(cur)
		if err != nil {
			return err
		}
		c.e.Block(op, results...)
		c.labels = append(c.labels, label{name: name, op: op})
		if err := c.seq(cur, false); err != nil {
			return err
		}
		c.labels = c.labels[:len(c.labels)-1]
		c.e.Op(wasm.OpEnd)
		return nil
	case "if":
		return c.foldedIf(n, cur)
	case "then", "else":
		return syntaxErr(n.tok.Pos, "%s outside of if", h)
	}
	op, err := c.opcode(n.list[0])
	if err != nil {
		return err
	}
	imm, err := c.immediate(op, n.list[0], cur)
	if err != nil {
		return err
	}
	// the remaining items are the operands
	for !cur.done() {
		operand := cur.next()
		if !operand.isList() {
			return syntaxErr(operand.tok.Pos, "expected folded operand, got %s", operand)
		}
		if err := c.folded(operand); err != nil {
			return err
		}
	}
	c.emit(op, imm)
	return nil
}

func (c *funcCompiler) foldedIf(n *node, cur *cursor) error {
	name, results, err := c.blockHeader(cur)
	if err != nil {
		return err
	}
	var thenNode, elseNode *node
	for !cur.done() {
		item := cur.next()
		switch item.head() {
		case "then":
			if thenNode != nil {
				return syntaxErr(item.tok.Pos, "duplicate then")
			}
			thenNode = item
		case "else":
			if thenNode == nil || elseNode != nil {
				return syntaxErr(item.tok.Pos, "unexpected else")
			}
			elseNode = item
		default:
			if thenNode != nil {
				return syntaxErr(item.tok.Pos, "condition after then")
			}
			if !item.isList() {
				return syntaxErr(item.tok.Pos, "expected folded condition, got %s", item)
			}
			if err := c.folded(item); err != nil {
				return err
			}
		}
	}
	if thenNode == nil {
		return syntaxErr(n.tok.Pos, "if without then")
	}
	c.e.Block(wasm.OpIf, results...)
	c.labels = append(c.labels, label{name: name, op: wasm.OpIf})
	if err := c.seq(&cursor{nodes: thenNode.list[1:]}, false); err != nil {
		return err
	}
	if elseNode != nil {
		c.e.Op(wasm.OpElse)
		if err := c.seq(&cursor{nodes: elseNode.list[1:]}, false); err != nil {
			return err
		}
	}
	c.labels = c.labels[:len(c.labels)-1]
	c.e.Op(wasm.OpEnd)
	return nil
}

func (c *funcCompiler) opcode(n *node) (wasm.Opcode, error) {
	name := n.tok.Text
	op, ok := wasm.LookupOpcode(name)
	switch {
	case ok && op.Supported():
		return op, nil
	case ok, strings.Contains(name, "."):
		return 0, unsupportedErr(n.tok.Pos, "instruction %s", name)
	default:
		return 0, syntaxErr(n.tok.Pos, "unknown instruction %q", name)
	}
}

// immediate reads the immediate operand of op from the cursor, if op has one.
func (c *funcCompiler) immediate(op wasm.Opcode, at *node, cur *cursor) (int64, error) {
	switch op {
	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee, wasm.OpBr, wasm.OpBrIf, wasm.OpCall,
		wasm.OpI32Const, wasm.OpI64Const:
	default:
		return 0, nil
	}
	n := cur.next()
	if n == nil || !n.isAtom() {
		return 0, syntaxErr(at.tok.Pos, "%s requires an immediate", op)
	}
	switch op {
	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		if n.isID() {
			idx, ok := c.fn.localNames[n.tok.Text]
			if !ok {
				return 0, syntaxErr(n.tok.Pos, "unknown local %s", n.tok.Text)
			}
			return int64(idx), nil
		}
		idx, err := parseIndex(n)
		return int64(idx), err
	case wasm.OpBr, wasm.OpBrIf:
		if n.isID() {
			for i := len(c.labels) - 1; i >= 0; i-- {
				if c.labels[i].name == n.tok.Text {
					return int64(len(c.labels) - 1 - i), nil
				}
			}
			return 0, syntaxErr(n.tok.Pos, "unknown label %s", n.tok.Text)
		}
		idx, err := parseIndex(n)
		return int64(idx), err
	case wasm.OpCall:
		idx, err := c.a.funcIndex(n)
		return int64(idx), err
	case wasm.OpI32Const:
		return parseConst(n, 32)
	default:
		return parseConst(n, 64)
	}
}

func (c *funcCompiler) emit(op wasm.Opcode, imm int64) {
	switch op {
	case wasm.OpI32Const:
		c.e.I32Const(int32(imm))
	case wasm.OpI64Const:
		c.e.I64Const(imm)
	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee, wasm.OpBr, wasm.OpBrIf, wasm.OpCall:
		c.e.Index(op, uint32(imm))
	default:
		c.e.Op(op)
	}
}
