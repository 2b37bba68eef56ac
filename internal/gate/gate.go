// Package gate compiles labeled per-channel threshold conditions and a
// boolean expression into a per-entity membership mask.
package gate

import (
	"fmt"
	"strings"

	"github.com/spatialscope/server/internal/dataset"
)

// Condition is one threshold test against a measurement channel. Or is
// the combinator with the previous condition in the list (false = AND);
// it is ignored for the first entry and only consulted when deriving the
// default expression.
type Condition struct {
	Channel  string  `json:"channel"`
	Negative bool    `json:"negative"`
	Cutoff   float64 `json:"cutoff"`
	Or       bool    `json:"or"`
}

// Label derives the spreadsheet-style label for the condition at list
// position i: 0→A, 25→Z, 26→AA. Labels are purely positional, so a
// structural edit of the list relabels everything after it.
func Label(i int) string {
	var buf [8]byte
	pos := len(buf)
	for i >= 0 {
		pos--
		buf[pos] = byte('A' + i%26)
		i = i/26 - 1
	}
	return string(buf[pos:])
}

// LabelIndex inverts Label. ok is false for anything that is not an
// upper-case spreadsheet label.
func LabelIndex(label string) (int, bool) {
	if label == "" {
		return 0, false
	}
	n := 0
	for _, r := range label {
		if r < 'A' || r > 'Z' {
			return 0, false
		}
		n = n*26 + int(r-'A') + 1
	}
	return n - 1, true
}

// DefaultExpression derives the expression implied by the conditions'
// own combinators: "A AND B OR C".
func DefaultExpression(conds []Condition) string {
	var sb strings.Builder
	for i := range conds {
		if i > 0 {
			if conds[i].Or {
				sb.WriteString(" OR ")
			} else {
				sb.WriteString(" AND ")
			}
		}
		sb.WriteString(Label(i))
	}
	return sb.String()
}

// Result is a completed gate evaluation: the mask, its population count,
// and any non-fatal diagnostics (missing channels, empty expression).
type Result struct {
	Mask       *Bitset
	MatchCount int
	Warnings   []string
}

// conditionMasks evaluates every condition against the full entity set.
// A condition naming an absent channel contributes an all-zero mask and
// a warning rather than failing the evaluation.
func conditionMasks(ds *dataset.Dataset, conds []Condition) ([]*Bitset, []string) {
	masks := make([]*Bitset, len(conds))
	var warnings []string

	for ci, cond := range conds {
		mask := NewBitset(len(ds.Entities))
		masks[ci] = mask

		slot, ok := ds.Channels.Index(cond.Channel)
		if !ok {
			warnings = append(warnings,
				fmt.Sprintf("condition %s: channel %q not in dataset", Label(ci), cond.Channel))
			continue
		}

		cutoff := float32(cond.Cutoff)
		for i := range ds.Entities {
			v := ds.Entities[i].Values[slot]
			if cond.Negative {
				if v < cutoff {
					mask.Set(i)
				}
			} else if v >= cutoff {
				mask.Set(i)
			}
		}
	}
	return masks, warnings
}

// Evaluate runs the full pipeline: condition masks, tokenize, compile,
// postfix evaluation. It is pure: identical inputs produce an identical
// Result. Compile errors leave the gate matching nothing.
func Evaluate(ds *dataset.Dataset, conds []Condition, expr string) (*Result, error) {
	masks, warnings := conditionMasks(ds, conds)

	if strings.TrimSpace(expr) == "" {
		return &Result{
			Mask:     NewBitset(len(ds.Entities)),
			Warnings: append(warnings, "empty gate expression matches nothing"),
		}, nil
	}

	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	postfix, err := compile(tokens)
	if err != nil {
		return nil, err
	}
	mask, err := evalPostfix(postfix, masks, len(ds.Entities))
	if err != nil {
		return nil, err
	}

	return &Result{Mask: mask, MatchCount: mask.Count(), Warnings: warnings}, nil
}
