package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/riskguard/internal/features"
)

// Parse compiles a condition string into an expression tree.
//
//	or         := and (OR and)*
//	and        := primary (AND primary)*
//	primary    := '(' or ')' | comparison | ref | boolean
//	comparison := ref op literal
//	literal    := number | string | boolean
func Parse(src string) (*Expr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty condition"}
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s %q", t.kind, t.text)}
	}
	return &Expr{src: src, root: root, leading: p.leading}, nil
}

type parser struct {
	toks    []token
	i       int
	leading string
	sawRef  bool
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	if p.peek().kind == tokLParen {
		open := p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, &SyntaxError{Pos: open.pos, Msg: "unbalanced parenthesis"}
		}
		p.next()
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokOp {
		// A lone operand is allowed only when it can yield a boolean.
		if lit, ok := left.(literal); ok && lit.v.Kind() != features.KindBool {
			t := p.peek()
			return nil, &SyntaxError{Pos: t.pos, Msg: "expected comparison operator"}
		}
		return &truthNode{operand: left}, nil
	}
	op := p.next()
	if _, ok := left.(ref); !ok {
		return nil, &SyntaxError{Pos: op.pos, Msg: "left side of a comparison must be a feature"}
	}

	at := p.peek()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, ok := right.(literal); !ok {
		return nil, &SyntaxError{Pos: at.pos, Msg: "right side of a comparison must be a literal"}
	}
	return &compareNode{op: op.text, left: left, right: right}, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		r := newRef(t.text)
		if !p.sawRef {
			p.sawRef = true
			p.leading = r.namespace
		}
		return r, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("invalid number %q", t.text)}
		}
		return literal{v: features.Number(f)}, nil
	case tokString:
		return literal{v: features.String(t.text)}, nil
	case tokTrue:
		return literal{v: features.Bool(true)}, nil
	case tokFalse:
		return literal{v: features.Bool(false)}, nil
	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected end of condition"}
	default:
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s %q", t.kind, t.text)}
	}
}

// newRef splits a dotted path at the first dot into namespace and feature.
func newRef(path string) ref {
	if ns, feat, ok := strings.Cut(path, "."); ok {
		return ref{namespace: ns, feature: feat}
	}
	return ref{feature: path}
}
