// Package manifest reads transaction manifests in their text form and
// derives what the marker indices are built from: the addresses a manifest
// touches and the classes it falls into.
package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerindex/gateway/storage/coreapi"
)

// ErrInvalidManifest is returned for manifest text that does not parse.
var ErrInvalidManifest = errors.New("invalid manifest")

type ValueKind int

const (
	// KindAddress is Address("...") holding a global or internal address.
	KindAddress ValueKind = iota
	// KindString is a string literal.
	KindString
	// KindConstructor is any other typed value, e.g. Decimal("1"),
	// Bucket("b"), Tuple(...), Array<Address>(...) or a named address.
	KindConstructor
	// KindLiteral is a bare token such as true or 10u32.
	KindLiteral
)

// Value is one argument of an instruction.
type Value struct {
	Kind ValueKind
	// Name is the constructor name of KindConstructor values.
	Name string
	// Text is the address, the unquoted string or the literal token.
	Text string
	Args []Value
}

// Addresses returns every address within v, depth first.
func (v *Value) Addresses() []string {
	var out []string
	v.walk(func(a string) { out = append(out, a) })
	return out
}

func (v *Value) walk(fn func(string)) {
	if v.Kind == KindAddress {
		fn(v.Text)
		return
	}
	for i := range v.Args {
		v.Args[i].walk(fn)
	}
}

type Instruction struct {
	Name string
	Args []Value
}

// Target returns the address a CALL_METHOD-like instruction is invoked on.
func (in *Instruction) Target() (string, bool) {
	if len(in.Args) == 0 || in.Args[0].Kind != KindAddress {
		return "", false
	}
	return in.Args[0].Text, true
}

// Method returns the method name of a CALL_METHOD instruction.
func (in *Instruction) Method() (string, bool) {
	if in.Name != "CALL_METHOD" || len(in.Args) < 2 || in.Args[1].Kind != KindString {
		return "", false
	}
	return in.Args[1].Text, true
}

type Manifest struct {
	Instructions []Instruction
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokPunct
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		break
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '"':
		var sb strings.Builder
		l.pos++
		for l.pos < len(l.src) {
			c = l.src[l.pos]
			switch c {
			case '"':
				l.pos++
				return token{kind: tokString, text: sb.String(), pos: start}, nil
			case '\\':
				if l.pos+1 >= len(l.src) {
					return token{}, fmt.Errorf("%w: unterminated escape at %d", ErrInvalidManifest, l.pos)
				}
				switch e := l.src[l.pos+1]; e {
				case 'n':
					sb.WriteByte('\n')
				case 't':
					sb.WriteByte('\t')
				case 'r':
					sb.WriteByte('\r')
				default:
					sb.WriteByte(e)
				}
				l.pos += 2
			default:
				sb.WriteByte(c)
				l.pos++
			}
		}
		return token{}, fmt.Errorf("%w: unterminated string at %d", ErrInvalidManifest, start)
	case c == '=' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '>':
		l.pos += 2
		return token{kind: tokPunct, text: "=>", pos: start}, nil
	case strings.IndexByte("(),;<>:", c) >= 0:
		l.pos++
		return token{kind: tokPunct, text: string(c), pos: start}, nil
	case isIdentByte(c):
		for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	default:
		return token{}, fmt.Errorf("%w: unexpected character %q at %d", ErrInvalidManifest, c, l.pos)
	}
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(text string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == text
}

func (p *parser) expectPunct(text string) error {
	t := p.advance()
	if t.kind != tokPunct || t.text != text {
		return fmt.Errorf("%w: expected %q at %d, got %q", ErrInvalidManifest, text, t.pos, t.text)
	}
	return nil
}

// Parse parses the text form of a manifest.
func Parse(src string) (*Manifest, error) {
	l := lexer{src: src}
	var tokens []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
		if t.kind == tokEOF {
			break
		}
	}

	p := parser{tokens: tokens}
	m := &Manifest{}
	for p.peek().kind != tokEOF {
		in, err := p.instruction()
		if err != nil {
			return nil, err
		}
		m.Instructions = append(m.Instructions, in)
	}
	return m, nil
}

func (p *parser) instruction() (Instruction, error) {
	t := p.advance()
	if t.kind != tokIdent {
		return Instruction{}, fmt.Errorf("%w: expected instruction at %d, got %q", ErrInvalidManifest, t.pos, t.text)
	}
	in := Instruction{Name: t.text}
	for !p.isPunct(";") {
		if p.peek().kind == tokEOF {
			return Instruction{}, fmt.Errorf("%w: instruction %s not terminated", ErrInvalidManifest, in.Name)
		}
		v, err := p.value()
		if err != nil {
			return Instruction{}, fmt.Errorf("%s: %w", in.Name, err)
		}
		in.Args = append(in.Args, v)
	}
	p.advance()
	return in, nil
}

func (p *parser) value() (Value, error) {
	t := p.advance()
	switch t.kind {
	case tokString:
		return Value{Kind: KindString, Text: t.text}, nil
	case tokIdent:
	default:
		return Value{}, fmt.Errorf("%w: unexpected %q at %d", ErrInvalidManifest, t.text, t.pos)
	}

	if p.isPunct("<") {
		if err := p.skipTypeArguments(); err != nil {
			return Value{}, err
		}
		if !p.isPunct("(") {
			return Value{}, fmt.Errorf("%w: expected arguments after %s<...> at %d", ErrInvalidManifest, t.text, p.peek().pos)
		}
	}
	if !p.isPunct("(") {
		return Value{Kind: KindLiteral, Text: t.text}, nil
	}
	p.advance()

	v := Value{Kind: KindConstructor, Name: t.text}
	for !p.isPunct(")") {
		arg, err := p.value()
		if err != nil {
			return Value{}, err
		}
		v.Args = append(v.Args, arg)
		if p.isPunct("=>") {
			p.advance()
			mapped, err := p.value()
			if err != nil {
				return Value{}, err
			}
			v.Args = append(v.Args, mapped)
		}
		if p.isPunct(",") {
			p.advance()
		} else if !p.isPunct(")") {
			return Value{}, fmt.Errorf("%w: expected \",\" or \")\" at %d", ErrInvalidManifest, p.peek().pos)
		}
	}
	p.advance()

	// Address("...") names either a real address or one allocated by
	// ALLOCATE_GLOBAL_ADDRESS; only the former is an entity.
	if v.Name == "Address" && len(v.Args) == 1 && v.Args[0].Kind == KindString &&
		coreapi.AddressKind(v.Args[0].Text) != coreapi.EntityUnknown {
		return Value{Kind: KindAddress, Text: v.Args[0].Text}, nil
	}
	return v, nil
}

func (p *parser) skipTypeArguments() error {
	depth := 0
	for {
		t := p.advance()
		switch {
		case t.kind == tokEOF:
			return fmt.Errorf("%w: unterminated type arguments", ErrInvalidManifest)
		case t.kind == tokPunct && t.text == "<":
			depth++
		case t.kind == tokPunct && t.text == ">":
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
}
