package gate

import (
	"errors"
	"testing"

	"github.com/spatialscope/server/internal/dataset"
)

// fourEntityDataset builds the canonical fixture: four entities with
// (CD3E, EPCAM) expression pairs (1,1), (1,0), (0,1), (0,0).
func fourEntityDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	panel, err := dataset.NewChannelPanel([]string{"CD3E", "EPCAM"})
	if err != nil {
		t.Fatalf("NewChannelPanel: %v", err)
	}
	reg := dataset.NewCategoryRegistry()
	reg.Add("cell")

	pairs := [][2]float32{{1, 1}, {1, 0}, {0, 1}, {0, 0}}
	ds := &dataset.Dataset{Name: "four", Channels: panel, Categories: reg}
	for i, p := range pairs {
		ds.Entities = append(ds.Entities, dataset.Entity{
			ID: int32(i + 1), Key: Label(i), Category: "cell",
			Values: []float32{p[0], p[1]},
		})
	}
	return ds
}

func maskBits(t *testing.T, m *Bitset) []int {
	t.Helper()
	var out []int
	for i := 0; i < m.Len(); i++ {
		if m.Get(i) {
			out = append(out, i+1)
		}
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLabelRoundTrip(t *testing.T) {
	cases := []struct {
		i     int
		label string
	}{
		{0, "A"}, {1, "B"}, {25, "Z"}, {26, "AA"}, {27, "AB"}, {51, "AZ"}, {52, "BA"}, {701, "ZZ"}, {702, "AAA"},
	}
	for _, tc := range cases {
		if got := Label(tc.i); got != tc.label {
			t.Errorf("Label(%d) = %q, want %q", tc.i, got, tc.label)
		}
		idx, ok := LabelIndex(tc.label)
		if !ok || idx != tc.i {
			t.Errorf("LabelIndex(%q) = (%d, %v), want (%d, true)", tc.label, idx, ok, tc.i)
		}
	}
	if _, ok := LabelIndex("a1"); ok {
		t.Error("LabelIndex should reject non-letter input")
	}
	if _, ok := LabelIndex(""); ok {
		t.Error("LabelIndex should reject empty input")
	}
}

func TestDefaultExpression(t *testing.T) {
	conds := []Condition{
		{Channel: "CD3E", Cutoff: 0.5},
		{Channel: "EPCAM", Cutoff: 0.5, Or: true},
		{Channel: "VIM", Cutoff: 1},
	}
	if got := DefaultExpression(conds); got != "A OR B AND C" {
		t.Fatalf("DefaultExpression = %q", got)
	}
	if got := DefaultExpression(nil); got != "" {
		t.Fatalf("DefaultExpression(nil) = %q", got)
	}
}

func TestBooleanScenarios(t *testing.T) {
	ds := fourEntityDataset(t)
	conds := []Condition{
		{Channel: "CD3E", Cutoff: 0.5},
		{Channel: "EPCAM", Cutoff: 0.5},
	}

	cases := []struct {
		expr string
		want []int
	}{
		{"A AND B", []int{1}},
		{"A OR B", []int{1, 2, 3}},
		{"A AND NOT B", []int{2}},
		{"NOT A AND NOT B", []int{4}},
		{"NOT (A OR B)", []int{4}},
		{"a && b", []int{1}},   // alias + case normalization
		{"a || !b", []int{1, 2, 4}},
		{"NOT NOT A", []int{1, 2}},
		{"(A)", []int{1, 2}},
	}

	for _, tc := range cases {
		res, err := Evaluate(ds, conds, tc.expr)
		if err != nil {
			t.Errorf("Evaluate(%q): %v", tc.expr, err)
			continue
		}
		got := maskBits(t, res.Mask)
		if !equalInts(got, tc.want) {
			t.Errorf("Evaluate(%q) matched %v, want %v", tc.expr, got, tc.want)
		}
		if res.MatchCount != len(tc.want) {
			t.Errorf("Evaluate(%q) count = %d, want %d", tc.expr, res.MatchCount, len(tc.want))
		}
	}
}

func TestNegativeSenseCondition(t *testing.T) {
	ds := fourEntityDataset(t)
	conds := []Condition{{Channel: "CD3E", Negative: true, Cutoff: 0.5}}
	res, err := Evaluate(ds, conds, "A")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := maskBits(t, res.Mask); !equalInts(got, []int{3, 4}) {
		t.Fatalf("negative sense matched %v, want [3 4]", got)
	}
}

func TestDistributivity(t *testing.T) {
	ds := fourEntityDataset(t)
	conds := []Condition{
		{Channel: "CD3E", Cutoff: 0.5},
		{Channel: "EPCAM", Cutoff: 0.5},
		{Channel: "EPCAM", Negative: true, Cutoff: 0.5},
	}

	left, err := Evaluate(ds, conds, "A AND (B OR C)")
	if err != nil {
		t.Fatalf("left: %v", err)
	}
	right, err := Evaluate(ds, conds, "(A AND B) OR (A AND C)")
	if err != nil {
		t.Fatalf("right: %v", err)
	}
	if !left.Mask.Equal(right.Mask) {
		t.Fatalf("distributivity violated: %v vs %v", maskBits(t, left.Mask), maskBits(t, right.Mask))
	}
}

func TestRepeatedLabelDoesNotAlias(t *testing.T) {
	ds := fourEntityDataset(t)
	conds := []Condition{{Channel: "CD3E", Cutoff: 0.5}}

	// A AND NOT A must be empty; if operand pushes shared the underlying
	// words, the in-place NOT would corrupt the left operand.
	res, err := Evaluate(ds, conds, "A AND NOT A")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.MatchCount != 0 {
		t.Fatalf("A AND NOT A matched %v", maskBits(t, res.Mask))
	}
}

func TestMissingChannelWarnsButEvaluates(t *testing.T) {
	ds := fourEntityDataset(t)
	conds := []Condition{
		{Channel: "CD3E", Cutoff: 0.5},
		{Channel: "NOSUCH", Cutoff: 0.5},
	}

	res, err := Evaluate(ds, conds, "A AND B")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.MatchCount != 0 {
		t.Errorf("missing channel sub-mask should zero the AND, matched %v", maskBits(t, res.Mask))
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one missing-channel warning", res.Warnings)
	}

	// OR still passes through the present condition.
	res, err = Evaluate(ds, conds, "A OR B")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := maskBits(t, res.Mask); !equalInts(got, []int{1, 2}) {
		t.Errorf("A OR B with missing B matched %v, want [1 2]", got)
	}
}

func TestCompileErrors(t *testing.T) {
	ds := fourEntityDataset(t)
	conds := []Condition{{Channel: "CD3E", Cutoff: 0.5}}

	cases := []struct {
		expr string
		want error
	}{
		{"A AND Z", ErrUnknownLabel},
		{"(A", ErrMismatchedParens},
		{"A)", ErrMismatchedParens},
		{"A B", ErrMalformed},
		{"AND A", ErrMissingOperand},
		{"NOT", ErrMissingOperand},
		{"A AND", ErrMissingOperand},
		{"A # B", ErrBadToken},
	}

	for _, tc := range cases {
		res, err := Evaluate(ds, conds, tc.expr)
		if err == nil {
			t.Errorf("Evaluate(%q) succeeded, want %v", tc.expr, tc.want)
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, err, tc.want)
		}
		if res != nil {
			t.Errorf("Evaluate(%q) returned a result alongside the error", tc.expr)
		}
	}
}

func TestEmptyExpressionMatchesNothing(t *testing.T) {
	ds := fourEntityDataset(t)
	res, err := Evaluate(ds, []Condition{{Channel: "CD3E", Cutoff: 0.5}}, "   ")
	if err != nil {
		t.Fatalf("empty expression should not error: %v", err)
	}
	if res.MatchCount != 0 {
		t.Errorf("empty expression matched %d entities", res.MatchCount)
	}
	if len(res.Warnings) == 0 {
		t.Error("empty expression should carry a diagnostic")
	}
}

func TestEvaluateIsPure(t *testing.T) {
	ds := fourEntityDataset(t)
	conds := []Condition{
		{Channel: "CD3E", Cutoff: 0.5},
		{Channel: "EPCAM", Cutoff: 0.5},
	}
	first, err := Evaluate(ds, conds, "A AND NOT B")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := Evaluate(ds, conds, "A AND NOT B")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !first.Mask.Equal(second.Mask) || first.MatchCount != second.MatchCount {
		t.Fatal("repeated evaluation diverged")
	}
}
