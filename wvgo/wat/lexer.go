package wat

import (
	"fmt"
	"strings"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokLParen
	tokRParen
	tokAtom   // keyword, number or $identifier
	tokString // quoted string, Text holds the unescaped value
)

type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

type token struct {
	Type tokenType
	Text string
	Pos  Position
}

type lexer struct {
	input  string
	offset int
	line   int
	column int
}

func newLexer(s string) *lexer {
	return &lexer{input: s, line: 1, column: 1}
}

func (l *lexer) pos() Position {
	return Position{Line: l.line, Column: l.column}
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.offset < len(l.input); i++ {
		if l.input[l.offset] == '\n' {
			l.line++
			l.column = 1
		} else {
			l.column++
		}
		l.offset++
	}
}

func (l *lexer) hasPrefix(p string) bool {
	return strings.HasPrefix(l.input[l.offset:], p)
}

// skip consumes whitespace, line comments and nested block comments.
func (l *lexer) skip() error {
	for l.offset < len(l.input) {
		switch c := l.input[l.offset]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.advance(1)
		case l.hasPrefix(";;"):
			for l.offset < len(l.input) && l.input[l.offset] != '\n' {
				l.advance(1)
			}
		case l.hasPrefix("(;"):
			start := l.pos()
			depth := 0
			for {
				if l.offset >= len(l.input) {
					return syntaxErr(start, "unterminated block comment")
				}
				if l.hasPrefix("(;") {
					depth++
					l.advance(2)
				} else if l.hasPrefix(";)") {
					depth--
					l.advance(2)
					if depth == 0 {
						break
					}
				} else {
					l.advance(1)
				}
			}
		default:
			return nil
		}
	}
	return nil
}

func isAtomChar(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '(', ')', '"', ';':
		return false
	}
	return c > 0x20 && c < 0x7f
}

func (l *lexer) next() (token, error) {
	if err := l.skip(); err != nil {
		return token{}, err
	}
	start := l.pos()
	if l.offset >= len(l.input) {
		return token{Type: tokEOF, Pos: start}, nil
	}
	switch c := l.input[l.offset]; {
	case c == '(':
		l.advance(1)
		return token{Type: tokLParen, Text: "(", Pos: start}, nil
	case c == ')':
		l.advance(1)
		return token{Type: tokRParen, Text: ")", Pos: start}, nil
	case c == '"':
		return l.readString()
	case isAtomChar(c):
		end := l.offset
		for end < len(l.input) && isAtomChar(l.input[end]) {
			end++
		}
		text := l.input[l.offset:end]
		l.advance(end - l.offset)
		return token{Type: tokAtom, Text: text, Pos: start}, nil
	default:
		return token{}, syntaxErr(start, "unexpected character %q", c)
	}
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (l *lexer) readString() (token, error) {
	start := l.pos()
	l.advance(1)
	var sb strings.Builder
	for {
		if l.offset >= len(l.input) || l.input[l.offset] == '\n' {
			return token{}, syntaxErr(start, "unterminated string")
		}
		c := l.input[l.offset]
		if c == '"' {
			l.advance(1)
			return token{Type: tokString, Text: sb.String(), Pos: start}, nil
		}
		if c != '\\' {
			sb.WriteByte(c)
			l.advance(1)
			continue
		}
		if l.offset+1 >= len(l.input) {
			return token{}, syntaxErr(start, "unterminated string")
		}
		esc := l.input[l.offset+1]
		switch esc {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '"', '\'', '\\':
			sb.WriteByte(esc)
		default:
			hi, ok1 := unhex(esc)
			if l.offset+2 >= len(l.input) {
				return token{}, syntaxErr(l.pos(), "invalid escape")
			}
			lo, ok2 := unhex(l.input[l.offset+2])
			if !ok1 || !ok2 {
				return token{}, syntaxErr(l.pos(), "invalid escape \\%c", esc)
			}
			sb.WriteByte(hi<<4 | lo)
			l.advance(1)
		}
		l.advance(2)
	}
}
