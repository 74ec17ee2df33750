// Package expr evaluates arithmetic expressions over exact rationals.
//
// Grammar:
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/") unary }
//	unary   = ("+" | "-") unary | primary
//	primary = number | "(" expr ")"
//
// Results are rendered as integers when whole and as reduced fractions
// otherwise, so "1+2" yields "3" and "1/3" yields "1/3".
package expr

import (
	"fmt"
	"math/big"
)

// Parse evaluates input and returns the rendered result.
func Parse(input string) (string, error) {
	v, err := Eval(input)
	if err != nil {
		return "", err
	}
	return Format(v), nil
}

// Eval evaluates input and returns the exact value.
func Eval(input string) (*big.Rat, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, ErrEmpty
	}

	p := &parser{tokens: tokens}
	v, err := p.expr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, unexpectedToken(tok)
	}
	return v, nil
}

// Format renders v as an integer when it is whole, otherwise as a reduced
// fraction.
func Format(v *big.Rat) string {
	if v.IsInt() {
		return v.Num().String()
	}
	return v.RatString()
}

// MaxDepth bounds the nesting of parentheses and unary signs.
const MaxDepth = 1000

type parser struct {
	tokens []token
	pos    int
	depth  int
}

// descend records one more level of nesting at tok. Every successful call
// must be paired with ascend.
func (p *parser) descend(tok token) error {
	if p.depth >= MaxDepth {
		return &SyntaxError{Offset: tok.offset, Message: "expression nested too deeply"}
	}
	p.depth++
	return nil
}

func (p *parser) ascend() {
	p.depth--
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expr() (*big.Rat, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}

	for {
		op := p.peek().kind
		if op != tokenPlus && op != tokenMinus {
			return left, nil
		}
		p.next()

		right, err := p.term()
		if err != nil {
			return nil, err
		}
		if op == tokenPlus {
			left.Add(left, right)
		} else {
			left.Sub(left, right)
		}
	}
}

func (p *parser) term() (*big.Rat, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}

	for {
		op := p.peek().kind
		if op != tokenStar && op != tokenSlash {
			return left, nil
		}
		p.next()

		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		if op == tokenStar {
			left.Mul(left, right)
			continue
		}
		if right.Sign() == 0 {
			return nil, ErrDivisionByZero
		}
		left.Quo(left, right)
	}
}

func (p *parser) unary() (*big.Rat, error) {
	tok := p.peek()
	if tok.kind != tokenPlus && tok.kind != tokenMinus {
		return p.primary()
	}

	if err := p.descend(tok); err != nil {
		return nil, err
	}
	defer p.ascend()

	p.next()
	v, err := p.unary()
	if err != nil {
		return nil, err
	}
	if tok.kind == tokenMinus {
		v.Neg(v)
	}
	return v, nil
}

func (p *parser) primary() (*big.Rat, error) {
	tok := p.next()
	switch tok.kind {
	case tokenNumber:
		return new(big.Rat).Set(tok.value), nil
	case tokenLParen:
		if err := p.descend(tok); err != nil {
			return nil, err
		}
		defer p.ascend()

		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokenRParen {
			return nil, unexpectedToken(closing)
		}
		return v, nil
	default:
		return nil, unexpectedToken(tok)
	}
}

func unexpectedToken(tok token) error {
	if tok.kind == tokenEOF {
		return unexpectedEnd()
	}
	return &SyntaxError{
		Offset:  tok.offset,
		Message: fmt.Sprintf("unexpected token '%s'", tok.text),
	}
}
