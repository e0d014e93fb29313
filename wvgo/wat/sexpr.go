package wat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSyntax      = errors.New("wat syntax error")
	ErrUnsupported = errors.New("unsupported wat construct")
)

func syntaxErr(pos Position, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", ErrSyntax, pos, fmt.Sprintf(format, args...))
}

func unsupportedErr(pos Position, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", ErrUnsupported, pos, fmt.Sprintf(format, args...))
}

// node is an S-expression: an atom, a string or a parenthesized list.
type node struct {
	tok  token
	list []*node
}

func (n *node) isList() bool {
	return n.tok.Type == tokLParen
}

func (n *node) isAtom() bool {
	return n.tok.Type == tokAtom
}

// head is the leading keyword of a list, or "".
func (n *node) head() string {
	if !n.isList() || len(n.list) == 0 || !n.list[0].isAtom() {
		return ""
	}
	return n.list[0].tok.Text
}

func (n *node) isID() bool {
	return n.isAtom() && strings.HasPrefix(n.tok.Text, "$")
}

func (n *node) String() string {
	switch n.tok.Type {
	case tokLParen:
		parts := make([]string, len(n.list))
		for i, c := range n.list {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	case tokString:
		return fmt.Sprintf("%q", n.tok.Text)
	default:
		return n.tok.Text
	}
}

// parse reads all top-level S-expressions.
func parse(src string) ([]*node, error) {
	l := newLexer(src)
	var out []*node
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == tokEOF {
			return out, nil
		}
		n, err := parseNode(l, tok)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
}

func parseNode(l *lexer, tok token) (*node, error) {
	switch tok.Type {
	case tokRParen:
		return nil, syntaxErr(tok.Pos, "unexpected )")
	case tokLParen:
		n := &node{tok: tok}
		for {
			child, err := l.next()
			if err != nil {
				return nil, err
			}
			switch child.Type {
			case tokEOF:
				return nil, syntaxErr(tok.Pos, "unclosed (")
			case tokRParen:
				return n, nil
			}
			c, err := parseNode(l, child)
			if err != nil {
				return nil, err
			}
			n.list = append(n.list, c)
		}
	default:
		return &node{tok: tok}, nil
	}
}
