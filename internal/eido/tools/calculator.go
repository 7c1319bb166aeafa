package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Calculator evaluates basic arithmetic expressions (+ - * / and parens).
type Calculator struct{}

func (Calculator) Name() string      { return "calculator" }
func (Calculator) Signature() string { return "calculator(expression: string)" }
func (Calculator) Doc() string {
	return "Evaluate an arithmetic expression with +, -, *, / and parentheses."
}

func (Calculator) Invoke(_ context.Context, _ string, args []any, kwargs map[string]any) (any, error) {
	expr, err := stringArg("expression", args, kwargs, 0)
	if err != nil {
		return nil, err
	}
	p := &exprParser{src: expr}
	v, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.src[p.pos], p.pos)
	}
	return v, nil
}

// exprParser is a small recursive-descent evaluator over float64.
type exprParser struct {
	src string
	pos int
}

func (p *exprParser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return v, nil
		}
		switch p.src[p.pos] {
		case '+':
			p.pos++
			r, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.pos++
			r, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	v, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return v, nil
		}
		switch p.src[p.pos] {
		case '*':
			p.pos++
			r, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			v *= r
		case '/':
			p.pos++
			r, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v /= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case c == '-':
		p.pos++
		v, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -v, nil
	default:
		start := p.pos
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		if start == p.pos {
			return 0, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
		}
		v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", p.src[start:p.pos])
		}
		return v, nil
	}
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// stringArg reads a named kwarg or falls back to a positional argument.
func stringArg(name string, args []any, kwargs map[string]any, pos int) (string, error) {
	if v, ok := kwargs[name]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	if pos < len(args) {
		if s, ok := args[pos].(string); ok {
			return strings.TrimSpace(s), nil
		}
		return "", fmt.Errorf("argument %d must be a string", pos)
	}
	return "", fmt.Errorf("missing argument %q", name)
}
