package movetype

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTypeTag is wrapped by every ParseTypeTag failure.
var ErrInvalidTypeTag = errors.New("invalid type tag")

// ParseTypeTag parses a Move type such as "u64", "vector<address>",
// "&mut 0x1::coin::Coin<0x1::aptos_coin::AptosCoin>" or, when allowGenerics
// is set, a generic parameter like "T0".
func ParseTypeTag(s string, allowGenerics bool) (TypeTag, error) {
	p := &tagParser{src: s, allowGenerics: allowGenerics}
	tag, err := p.parseType()
	if err != nil {
		return TypeTag{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return TypeTag{}, p.errorf("unexpected trailing input %q", p.src[p.pos:])
	}
	return tag, nil
}

// MustParseTypeTag is like ParseTypeTag but panics on error.
func MustParseTypeTag(s string) TypeTag {
	tag, err := ParseTypeTag(s, true)
	if err != nil {
		panic(err)
	}
	return tag
}

type tagParser struct {
	src           string
	pos           int
	allowGenerics bool
}

func (p *tagParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidTypeTag, p.src, fmt.Sprintf(format, args...))
}

func (p *tagParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *tagParser) consume(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

// ident reads an identifier or hex literal.
func (p *tagParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *tagParser) parseType() (TypeTag, error) {
	if p.consume("&") {
		mutable := false
		save := p.pos
		if word := p.ident(); word == "mut" {
			mutable = true
		} else {
			p.pos = save
		}
		inner, err := p.parseType()
		if err != nil {
			return TypeTag{}, err
		}
		if inner.Kind == KindReference {
			return TypeTag{}, p.errorf("nested references are not allowed")
		}
		return Reference(inner, mutable), nil
	}

	word := p.ident()
	if word == "" {
		if p.pos >= len(p.src) {
			return TypeTag{}, p.errorf("unexpected end of input")
		}
		return TypeTag{}, p.errorf("unexpected character %q", p.src[p.pos])
	}

	if kind, ok := primitiveNames[word]; ok && !p.peek("::") {
		return TypeTag{Kind: kind}, nil
	}

	if word == "vector" {
		args, err := p.typeArgs()
		if err != nil {
			return TypeTag{}, err
		}
		if len(args) != 1 {
			return TypeTag{}, p.errorf("vector takes exactly one type argument, got %d", len(args))
		}
		if args[0].Kind == KindReference {
			return TypeTag{}, p.errorf("vector of references is not allowed")
		}
		return Vector(args[0]), nil
	}

	if !p.peek("::") {
		if idx, ok := genericIndex(word); ok {
			if !p.allowGenerics {
				return TypeTag{}, p.errorf("generic type parameter %s not allowed", word)
			}
			return Generic(idx), nil
		}
		return TypeTag{}, p.errorf("unknown type %q", word)
	}

	addr, err := ParseAddress(word)
	if err != nil {
		return TypeTag{}, p.errorf("bad struct address %q", word)
	}
	p.consume("::")
	module := p.ident()
	if module == "" || !p.consume("::") {
		return TypeTag{}, p.errorf("struct tag must be address::module::name")
	}
	name := p.ident()
	if name == "" {
		return TypeTag{}, p.errorf("missing struct name")
	}
	var args []TypeTag
	if p.peek("<") {
		if args, err = p.typeArgs(); err != nil {
			return TypeTag{}, err
		}
		if len(args) == 0 {
			return TypeTag{}, p.errorf("empty type argument list")
		}
	}
	for _, arg := range args {
		if arg.Kind == KindReference {
			return TypeTag{}, p.errorf("struct type arguments cannot be references")
		}
	}
	return Struct(addr, module, name, args...), nil
}

func (p *tagParser) peek(tok string) bool {
	save := p.pos
	p.skipSpace()
	ok := strings.HasPrefix(p.src[p.pos:], tok)
	p.pos = save
	return ok
}

func (p *tagParser) typeArgs() ([]TypeTag, error) {
	if !p.consume("<") {
		return nil, p.errorf("expected '<'")
	}
	var args []TypeTag
	if p.consume(">") {
		return args, nil
	}
	for {
		arg, err := p.parseType()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.consume(",") {
			continue
		}
		if p.consume(">") {
			return args, nil
		}
		return nil, p.errorf("expected ',' or '>' at offset %d", p.pos)
	}
}

func genericIndex(word string) (uint16, bool) {
	if len(word) < 2 || word[0] != 'T' {
		return 0, false
	}
	n, err := strconv.ParseUint(word[1:], 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// StandardizeTypeTags converts a list of type arguments given as strings or
// tags into parsed tags. Generic parameters are rejected.
func StandardizeTypeTags(args []any) ([]TypeTag, error) {
	out := make([]TypeTag, 0, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			tag, err := ParseTypeTag(v, false)
			if err != nil {
				return nil, fmt.Errorf("type argument %d: %w", i, err)
			}
			out = append(out, tag)
		case TypeTag:
			out = append(out, v)
		case *TypeTag:
			if v == nil {
				return nil, fmt.Errorf("type argument %d is nil", i)
			}
			out = append(out, *v)
		case fmt.Stringer:
			tag, err := ParseTypeTag(v.String(), false)
			if err != nil {
				return nil, fmt.Errorf("type argument %d: %w", i, err)
			}
			out = append(out, tag)
		default:
			return nil, fmt.Errorf("type argument %d: unsupported type %T", i, arg)
		}
	}
	return out, nil
}
