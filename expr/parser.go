package expr

import (
	"fmt"
	"strconv"
)

// Parser parses expression strings into ASTs.
type Parser struct {
	lexer *lexer
	cur   token
	peek  token
	err   error
}

// NewParser creates a parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: newLexer(input)}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete expression, failing on trailing input.
func Parse(input string) (Node, error) {
	p := NewParser(input)
	node, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, fmt.Errorf("expr: parsing %q: %w", input, err)
	}
	if p.cur.typ != tokenEOF {
		return nil, fmt.Errorf("expr: parsing %q: unexpected %q at position %d",
			input, p.cur.lit, p.cur.pos)
	}
	return node, nil
}

// MustParse is Parse for expressions known good at compile time (reserved
// quantities, tests). It panics on error.
func MustParse(input string) Node {
	n, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return n
}

func (p *Parser) nextToken() {
	p.cur = p.peek
	tok, err := p.lexer.nextToken()
	if err != nil && p.err == nil {
		p.err = err
	}
	p.peek = tok
}

func (p *Parser) parseExpression(minPrec int) (Node, error) {
	if p.err != nil {
		return nil, p.err
	}
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenOp {
		op := p.cur.lit
		prec := precedenceOf(op)
		if prec == precLowest || prec < minPrec {
			break
		}
		p.nextToken()
		// Power is right-associative, everything else left.
		nextMin := prec + 1
		if op == "^" {
			nextMin = prec
		}
		right, err := p.parseExpression(nextMin)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Node, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.cur.typ == tokenOp && (p.cur.lit == "-" || p.cur.lit == "+" || p.cur.lit == "!") {
		op := p.cur.lit
		p.nextToken()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			return operand, nil
		}
		// Fold negation into numeric literals.
		if op == "-" {
			if num, ok := operand.(*Num); ok {
				return &Num{Value: -num.Value}, nil
			}
		}
		return &Unary{Op: op, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Node, error) {
	switch p.cur.typ {
	case tokenNumber:
		v, err := strconv.ParseFloat(p.cur.lit, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at position %d", p.cur.lit, p.cur.pos)
		}
		p.nextToken()
		return &Num{Value: v}, nil

	case tokenIdent:
		name := p.cur.lit
		p.nextToken()
		switch name {
		case "true", "True":
			return &Bool{Value: true}, nil
		case "false", "False":
			return &Bool{Value: false}, nil
		}
		if p.cur.typ == tokenLParen {
			return p.parseCall(name)
		}
		return &Sym{Name: name}, nil

	case tokenLParen:
		p.nextToken()
		inner, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		if p.cur.typ != tokenRParen {
			return nil, fmt.Errorf("expected ')' at position %d", p.cur.pos)
		}
		p.nextToken()
		return inner, nil

	case tokenEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at position %d", p.cur.lit, p.cur.pos)
}

func (p *Parser) parseCall(name string) (Node, error) {
	p.nextToken() // consume '('
	var args []Node
	if p.cur.typ != tokenRParen {
		for {
			arg, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.cur.typ != tokenComma {
				break
			}
			p.nextToken()
		}
	}
	if p.cur.typ != tokenRParen {
		return nil, fmt.Errorf("expected ')' closing call to %s at position %d", name, p.cur.pos)
	}
	p.nextToken()
	// NMODL's fabs is the C spelling of abs.
	if name == "fabs" {
		name = "abs"
	}
	return &Call{Func: name, Args: args}, nil
}
