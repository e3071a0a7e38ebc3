// Package reader implements a minimal s-expression reader: lists,
// vectors, maps, sets, symbols, keywords, strings, integers, and the
// ' quote shorthand (there is no syntax-quote/unquote). It exists purely as a
// test and CLI fixture (spec §1 scopes reader/printer out of the
// core), grounded on the teacher's own recursive-descent parser style
// (_examples/clarete-langlang/go/base_parser.go's hand-written
// cursor/line/column `Parser` struct with peek/advance/expect helpers)
// rather than the teacher's PEG-VM machinery, which has nothing to do
// with reading a fixed, already-known grammar.
package reader

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/rafalprzywarski/cleo-go/cleoerr"
	"github.com/rafalprzywarski/cleo-go/collection"
	"github.com/rafalprzywarski/cleo-go/heap"
)

// Reader turns source text into heap.Value forms one at a time, the
// way _examples/clarete-langlang/go/base_parser.go's BaseParser holds
// cursor/line/column over a rune slice rather than re-slicing a string
// on every step.
type Reader struct {
	h    *heap.Heap
	col  *collection.Types
	errs *cleoerr.Types

	input []rune
	pos   int
}

func New(h *heap.Heap, col *collection.Types, errs *cleoerr.Types) *Reader {
	return &Reader{h: h, col: col, errs: errs}
}

const eof = -1

func (r *Reader) peek() rune {
	if r.pos >= len(r.input) {
		return eof
	}
	return r.input[r.pos]
}

func (r *Reader) peekAt(off int) rune {
	if r.pos+off >= len(r.input) {
		return eof
	}
	return r.input[r.pos+off]
}

func (r *Reader) advance() rune {
	c := r.peek()
	if c != eof {
		r.pos++
	}
	return c
}

func (r *Reader) errorf(format string, args ...interface{}) error {
	return cleoerr.NewReadError(r.h, r.errs, fmt.Sprintf(format, args...))
}

func isSymbolChar(c rune) bool {
	if unicode.IsSpace(c) || c == eof {
		return false
	}
	switch c {
	case '(', ')', '[', ']', '{', '}', '"', ';', '\'', '`', '~', '@', ',':
		return false
	}
	return true
}

func (r *Reader) skipWhitespaceAndComments() {
	for {
		c := r.peek()
		if unicode.IsSpace(c) || c == ',' {
			r.advance()
			continue
		}
		if c == ';' {
			for r.peek() != eof && r.peek() != '\n' {
				r.advance()
			}
			continue
		}
		return
	}
}

// ReadAll parses every top-level form in source, in order, for
// callers (the `api`/`cmd/cleo` fixture) that want a whole file's
// worth of forms at once rather than one-at-a-time REPL reading.
func (r *Reader) ReadAll(source string) ([]heap.Value, error) {
	r.input = []rune(source)
	r.pos = 0
	var forms []heap.Value
	for {
		r.skipWhitespaceAndComments()
		if r.peek() == eof {
			return forms, nil
		}
		form, err := r.readForm()
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}
}

// Read parses exactly one top-level form from source.
func (r *Reader) Read(source string) (heap.Value, error) {
	r.input = []rune(source)
	r.pos = 0
	r.skipWhitespaceAndComments()
	if r.peek() == eof {
		return heap.Nil, cleoerr.NewUnexpectedEndOfInput(r.h, r.errs, "unexpected end of input")
	}
	return r.readForm()
}

func (r *Reader) readForm() (heap.Value, error) {
	r.skipWhitespaceAndComments()
	switch c := r.peek(); {
	case c == eof:
		return heap.Nil, cleoerr.NewUnexpectedEndOfInput(r.h, r.errs, "unexpected end of input")
	case c == '(':
		return r.readList()
	case c == '[':
		return r.readVector()
	case c == '{':
		return r.readMap()
	case c == '"':
		return r.readString()
	case c == ':':
		return r.readKeyword()
	case c == '\'':
		return r.readQuoteLike("quote")
	case c == '#' && r.peekAt(1) == '{':
		return r.readSet()
	case c == ')' || c == ']' || c == '}':
		return heap.Nil, r.errorf("unexpected %q", c)
	case c == '-' || c == '+' || unicode.IsDigit(c):
		if unicode.IsDigit(c) || (unicode.IsDigit(r.peekAt(1)) && (c == '-' || c == '+')) {
			return r.readNumber()
		}
		return r.readSymbol()
	default:
		return r.readSymbol()
	}
}

func (r *Reader) readQuoteLike(headName string) (heap.Value, error) {
	r.advance()
	inner, err := r.readForm()
	if err != nil {
		return heap.Nil, err
	}
	head := r.h.CreateSymbol("", headName)
	l := collection.EmptyList(r.col)
	l = collection.ListCons(r.h, r.col, l, inner)
	l = collection.ListCons(r.h, r.col, l, head)
	return l, nil
}

func (r *Reader) readDelimited(open, close rune) ([]heap.Value, error) {
	if r.advance() != open {
		return nil, r.errorf("expected %q", open)
	}
	var elems []heap.Value
	for {
		r.skipWhitespaceAndComments()
		if r.peek() == eof {
			return nil, cleoerr.NewUnexpectedEndOfInput(r.h, r.errs, "unexpected end of input, expected "+string(close))
		}
		if r.peek() == close {
			r.advance()
			return elems, nil
		}
		form, err := r.readForm()
		if err != nil {
			return nil, err
		}
		elems = append(elems, form)
	}
}

func (r *Reader) readList() (heap.Value, error) {
	elems, err := r.readDelimited('(', ')')
	if err != nil {
		return heap.Nil, err
	}
	l := collection.EmptyList(r.col)
	for i := len(elems) - 1; i >= 0; i-- {
		l = collection.ListCons(r.h, r.col, l, elems[i])
	}
	return l, nil
}

func (r *Reader) readVector() (heap.Value, error) {
	elems, err := r.readDelimited('[', ']')
	if err != nil {
		return heap.Nil, err
	}
	v := collection.EmptyVector(r.h, r.col)
	for _, e := range elems {
		v = collection.VectorConj(r.h, r.col, v, e)
	}
	return v, nil
}

func (r *Reader) readMap() (heap.Value, error) {
	elems, err := r.readDelimited('{', '}')
	if err != nil {
		return heap.Nil, err
	}
	if len(elems)%2 != 0 {
		return heap.Nil, r.errorf("map literal must have an even number of forms")
	}
	m := collection.EmptyArrayMap(r.h, r.col)
	for i := 0; i < len(elems); i += 2 {
		m = collection.ArrayMapAssoc(r.h, r.col, m, elems[i], elems[i+1])
	}
	return m, nil
}

func (r *Reader) readSet() (heap.Value, error) {
	r.advance() // '#'
	elems, err := r.readDelimited('{', '}')
	if err != nil {
		return heap.Nil, err
	}
	s := collection.EmptyArraySet(r.h, r.col)
	for _, e := range elems {
		s = collection.ArraySetConj(r.h, r.col, s, e)
	}
	return s, nil
}

func (r *Reader) readString() (heap.Value, error) {
	r.advance() // opening quote
	var b strings.Builder
	for {
		c := r.advance()
		switch c {
		case eof:
			return heap.Nil, cleoerr.NewUnexpectedEndOfInput(r.h, r.errs, "unterminated string")
		case '"':
			return r.h.CreateString(b.String()), nil
		case '\\':
			esc := r.advance()
			switch esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			case '\\', '"':
				b.WriteRune(esc)
			case eof:
				return heap.Nil, cleoerr.NewUnexpectedEndOfInput(r.h, r.errs, "unterminated string")
			default:
				return heap.Nil, r.errorf("invalid escape \\%c", esc)
			}
		default:
			b.WriteRune(c)
		}
	}
}

func (r *Reader) readToken() string {
	start := r.pos
	for isSymbolChar(r.peek()) {
		r.advance()
	}
	return string(r.input[start:r.pos])
}

func (r *Reader) readKeyword() (heap.Value, error) {
	r.advance() // ':'
	tok := r.readToken()
	if tok == "" {
		return heap.Nil, r.errorf("empty keyword")
	}
	ns, name := splitNsName(tok)
	return r.h.CreateKeyword(ns, name), nil
}

func (r *Reader) readSymbol() (heap.Value, error) {
	tok := r.readToken()
	if tok == "" {
		return heap.Nil, r.errorf("unexpected %q", r.peek())
	}
	if tok == "nil" {
		return heap.Nil, nil
	}
	ns, name := splitNsName(tok)
	return r.h.CreateSymbol(ns, name), nil
}

func (r *Reader) readNumber() (heap.Value, error) {
	tok := r.readToken()
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return heap.Nil, r.errorf("invalid number %q", tok)
	}
	return r.h.CreateInt64(n), nil
}

// splitNsName splits "ns/name" into its parts, the way
// cleo.core/refer-qualified symbols and keywords are written; a token
// with no '/' (or one starting with it, e.g. the division symbol "/"
// itself) stays unqualified.
func splitNsName(tok string) (ns, name string) {
	if tok == "/" {
		return "", "/"
	}
	if i := strings.IndexByte(tok, '/'); i > 0 {
		return tok[:i], tok[i+1:]
	}
	return "", tok
}
