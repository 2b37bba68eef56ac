package gate

import (
	"errors"
	"fmt"
	"strings"
)

// Compile-error taxonomy. All are surfaced as structured messages; the
// renderer treats a failed compile as "matches nothing" until corrected.
var (
	ErrMismatchedParens = errors.New("mismatched parentheses")
	ErrUnknownLabel     = errors.New("unknown condition label")
	ErrMalformed        = errors.New("malformed expression")
	ErrMissingOperand   = errors.New("missing operand")
	ErrBadToken         = errors.New("unexpected character")
)

type tokenKind int

const (
	tokLabel tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

// normalize maps the accepted aliases onto keywords and upper-cases the
// expression before scanning.
func normalize(expr string) string {
	r := strings.NewReplacer("&&", " AND ", "||", " OR ", "!", " NOT ")
	return strings.ToUpper(r.Replace(expr))
}

func tokenize(expr string) ([]token, error) {
	s := normalize(expr)
	var tokens []token

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen})
			i++
		case c >= 'A' && c <= 'Z':
			j := i
			for j < len(s) && s[j] >= 'A' && s[j] <= 'Z' {
				j++
			}
			word := s[i:j]
			switch word {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd})
			case "OR":
				tokens = append(tokens, token{kind: tokOr})
			case "NOT":
				tokens = append(tokens, token{kind: tokNot})
			default:
				tokens = append(tokens, token{kind: tokLabel, text: word})
			}
			i = j
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadToken, string(c))
		}
	}
	return tokens, nil
}

func precedence(k tokenKind) int {
	switch k {
	case tokNot:
		return 3
	case tokAnd:
		return 2
	case tokOr:
		return 1
	}
	return 0
}

// compile runs a shunting-yard pass producing postfix order. NOT is
// right-associative, AND and OR are left-associative.
func compile(tokens []token) ([]token, error) {
	var output, ops []token

	for _, t := range tokens {
		switch t.kind {
		case tokLabel:
			output = append(output, t)
		case tokNot, tokAnd, tokOr:
			for len(ops) > 0 {
				top := ops[len(ops)-1]
				if top.kind == tokLParen {
					break
				}
				tp, cp := precedence(top.kind), precedence(t.kind)
				if tp > cp || (tp == cp && t.kind != tokNot) {
					output = append(output, top)
					ops = ops[:len(ops)-1]
					continue
				}
				break
			}
			ops = append(ops, t)
		case tokLParen:
			ops = append(ops, t)
		case tokRParen:
			matched := false
			for len(ops) > 0 {
				top := ops[len(ops)-1]
				ops = ops[:len(ops)-1]
				if top.kind == tokLParen {
					matched = true
					break
				}
				output = append(output, top)
			}
			if !matched {
				return nil, ErrMismatchedParens
			}
		}
	}

	for len(ops) > 0 {
		top := ops[len(ops)-1]
		ops = ops[:len(ops)-1]
		if top.kind == tokLParen {
			return nil, ErrMismatchedParens
		}
		output = append(output, top)
	}
	return output, nil
}

// evalPostfix runs the postfix stream on a stack of masks. Operands push
// a copy of their condition's mask so repeated references stay intact.
func evalPostfix(postfix []token, masks []*Bitset, n int) (*Bitset, error) {
	var stack []*Bitset

	pop := func() (*Bitset, bool) {
		if len(stack) == 0 {
			return nil, false
		}
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return m, true
	}

	for _, t := range postfix {
		switch t.kind {
		case tokLabel:
			idx, ok := LabelIndex(t.text)
			if !ok || idx >= len(masks) {
				return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, t.text)
			}
			stack = append(stack, masks[idx].Clone())
		case tokNot:
			m, ok := pop()
			if !ok {
				return nil, fmt.Errorf("%w for NOT", ErrMissingOperand)
			}
			stack = append(stack, m.Not())
		case tokAnd, tokOr:
			b, okB := pop()
			a, okA := pop()
			if !okA || !okB {
				op := "AND"
				if t.kind == tokOr {
					op = "OR"
				}
				return nil, fmt.Errorf("%w for %s", ErrMissingOperand, op)
			}
			if t.kind == tokAnd {
				stack = append(stack, a.And(b))
			} else {
				stack = append(stack, a.Or(b))
			}
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: %d values left on evaluation stack", ErrMalformed, len(stack))
	}
	if stack[0].Len() != n {
		return nil, fmt.Errorf("%w: mask length %d, dataset %d", ErrMalformed, stack[0].Len(), n)
	}
	return stack[0], nil
}
