package expr

import (
	"strings"

	"github.com/dreamware/vmm/internal/model"
)

// Parse parses a search expression into a node tree.
//
// Grammar:
//
//	expr       := andExpr { "or" andExpr }
//	andExpr    := primary { "and" primary }
//	primary    := "(" expr ")" | comparison
//	comparison := name op value
//	op         := "=" | "!=" | "<" | "<=" | ">" | ">="
//	value      := 'text' | "text"      (a doubled quote escapes itself)
//
// Equality values may contain '*' wildcards. Keywords are case-insensitive.
// Every failure is a SearchExpressionError.
//
//	@type='PersonAccount' and (uid='al*' or cn='Al*')
func Parse(s string) (Node, error) {
	if strings.TrimSpace(s) == "" {
		return nil, model.Errorf(model.KindSearchExpressionError, "empty search expression")
	}

	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks, src: s}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return n, nil
}

type tokenKind int

const (
	tokName tokenKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			start := i
			i++
			if i < len(s) && s[i] == '=' {
				i++
			}
			op := s[start:i]
			if op == "!" {
				return nil, model.Errorf(model.KindSearchExpressionError, "invalid operator at %d in %q", start, s)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: start})
		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			var b strings.Builder
			closed := false
			for i < len(s) {
				if s[i] == quote {
					if i+1 < len(s) && s[i+1] == quote {
						b.WriteByte(quote)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, model.Errorf(model.KindSearchExpressionError, "unterminated string at %d in %q", start, s)
			}
			toks = append(toks, token{kind: tokString, text: b.String(), pos: start})
		case isNameByte(c):
			start := i
			for i < len(s) && isNameByte(s[i]) {
				i++
			}
			toks = append(toks, token{kind: tokName, text: s[start:i], pos: start})
		default:
			return nil, model.Errorf(model.KindSearchExpressionError, "unexpected character %q at %d in %q", c, i, s)
		}
	}
	return toks, nil
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '@' || c == ':' || c == '_' || c == '-' || c == '.' || c == '/'
}

type parser struct {
	toks []token
	pos  int
	src  string
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) errorf(format string, args ...any) error {
	e := model.Errorf(model.KindSearchExpressionError, format, args...)
	e.Message += " in " + p.src
	return e
}

func (p *parser) keyword(word string) bool {
	if p.done() {
		return false
	}
	t := p.peek()
	if t.kind == tokName && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = NewOr(left, right)
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = NewAnd(left, right)
	}
	return left, nil
}

func (p *parser) parsePrimary() (Node, error) {
	if p.done() {
		return nil, p.errorf("unexpected end of expression")
	}
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokRParen {
			return nil, p.errorf("unbalanced parentheses")
		}
		p.pos++
		return NewParen(inner), nil
	case tokName:
		return p.parseComparison()
	default:
		return nil, p.errorf("unexpected %q at %d", t.text, t.pos)
	}
}

func (p *parser) parseComparison() (Node, error) {
	name := p.toks[p.pos]
	if strings.EqualFold(name.text, "and") || strings.EqualFold(name.text, "or") {
		return nil, p.errorf("missing property name at %d", name.pos)
	}
	p.pos++

	if p.done() || p.peek().kind != tokOp {
		return nil, p.errorf("missing operator after %q", name.text)
	}
	opTok := p.peek()
	p.pos++

	var op Op
	switch opTok.text {
	case "=":
		op = OpEq
	case "!=":
		op = OpNe
	case "<":
		op = OpLt
	case "<=":
		op = OpLe
	case ">":
		op = OpGt
	case ">=":
		op = OpGe
	default:
		return nil, p.errorf("invalid operator %q at %d", opTok.text, opTok.pos)
	}

	if p.done() || p.peek().kind != tokString {
		return nil, p.errorf("missing quoted value for %q", name.text)
	}
	value := p.peek().text
	p.pos++

	return NewProperty(name.text, op, value), nil
}

// String renders a tree back into expression text. Parsing the result yields
// an equivalent tree.
func String(n Node) string {
	var b strings.Builder
	render(&b, n)
	return b.String()
}

func render(b *strings.Builder, n Node) {
	switch v := n.(type) {
	case *PropertyNode:
		b.WriteString(v.Name)
		b.WriteString(v.Op.String())
		b.WriteByte('\'')
		b.WriteString(strings.ReplaceAll(v.Value, "'", "''"))
		b.WriteByte('\'')
	case *LogicalNode:
		render(b, v.Left)
		b.WriteByte(' ')
		b.WriteString(v.Op.String())
		b.WriteByte(' ')
		render(b, v.Right)
	case *ParenNode:
		b.WriteByte('(')
		render(b, v.Inner)
		b.WriteByte(')')
	}
}
