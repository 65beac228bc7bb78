package heuristic

import (
	"testing"

	"github.com/kortsch/nlquery/forest"
	"github.com/kortsch/nlquery/grammar"
)

func leaf(sym *grammar.Symbol, lexeme string) *forest.Node {
	return &forest.Node{Symbol: sym, Lexeme: lexeme}
}

func TestAnnotatePicksCheapestFamily(t *testing.T) {
	term := &grammar.Symbol{ID: 1, Name: "NAME", Kind: grammar.Terminal}
	nt := &grammar.Symbol{ID: 2, Name: "person", Kind: grammar.Nonterminal}
	child := leaf(term, "jeb")

	cheapRule := &grammar.Rule{ID: 1, LHS: nt, Cost: 1}
	pricierRule := &grammar.Rule{ID: 2, LHS: nt, Cost: 5}
	root := &forest.Node{Symbol: nt, Families: []*forest.Family{
		{Rule: pricierRule, Children: []*forest.Node{child}, Cost: 5},
		{Rule: cheapRule, Children: []*forest.Node{child}, Cost: 1},
	}}

	costs := Annotate(root)
	if got := costs.Get(root); got != 1 {
		t.Fatalf("expected min cost 1, got %v", got)
	}
	if got := costs.Get(child); got != 0 {
		t.Fatalf("expected leaf cost 0, got %v", got)
	}
}

func TestAnnotateSharedSubtreeMemoised(t *testing.T) {
	term := &grammar.Symbol{ID: 1, Name: "NAME", Kind: grammar.Terminal}
	nt := &grammar.Symbol{ID: 2, Name: "person", Kind: grammar.Nonterminal}
	top := &grammar.Symbol{ID: 3, Name: "query", Kind: grammar.Nonterminal}

	shared := leaf(term, "jeb")
	personRule := &grammar.Rule{ID: 1, LHS: nt, Cost: 2}
	person := &forest.Node{Symbol: nt, Families: []*forest.Family{
		{Rule: personRule, Children: []*forest.Node{shared}, Cost: 2},
	}}
	topRule := &grammar.Rule{ID: 2, LHS: top, Cost: 0}
	root := &forest.Node{Symbol: top, Families: []*forest.Family{
		// Reference person twice, as two siblings sharing the same node:
		// the DAG case memoisation exists to handle.
		{Rule: topRule, Children: []*forest.Node{person, person}, Cost: 0},
	}}

	costs := Annotate(root)
	if got := costs.Get(root); got != 4 {
		t.Fatalf("expected shared subtree counted twice (2+2), got %v", got)
	}
}

func TestFlattenMergesTermSequence(t *testing.T) {
	word := &grammar.Symbol{ID: 1, Name: "WORD", Kind: grammar.Terminal}
	seqNT := &grammar.Symbol{ID: 2, Name: "phrase", Kind: grammar.Nonterminal}

	a := leaf(word, "new")
	b := leaf(word, "york")
	seqRule := &grammar.Rule{
		ID: 1, LHS: seqNT, Cost: 0,
		IsTermSequence:         true,
		RHSTermSequenceIndexes: []int{0, 1},
	}
	root := &forest.Node{Symbol: seqNT, Families: []*forest.Family{
		{Rule: seqRule, Children: []*forest.Node{a, b}, Cost: 0},
	}}

	costs := Annotate(root)
	flat := Flatten(root, costs)
	ft, ok := flat[root]
	if !ok {
		t.Fatalf("expected root to be flattened")
	}
	if ft.Text != "new york" {
		t.Fatalf("expected merged text 'new york', got %q", ft.Text)
	}
	if !ft.IsFlat {
		t.Fatalf("expected IsFlat true for a collapsed term-sequence node")
	}
}

func TestFlattenLeavesNonTermSequenceAlone(t *testing.T) {
	nt := &grammar.Symbol{ID: 2, Name: "person", Kind: grammar.Nonterminal}
	term := &grammar.Symbol{ID: 1, Name: "NAME", Kind: grammar.Terminal}
	child := leaf(term, "jeb")
	rule := &grammar.Rule{ID: 1, LHS: nt, Cost: 0}
	root := &forest.Node{Symbol: nt, Families: []*forest.Family{
		{Rule: rule, Children: []*forest.Node{child}, Cost: 0},
	}}

	costs := Annotate(root)
	flat := Flatten(root, costs)
	if flat[root].Text != "" {
		t.Fatalf("expected no merged text for a non-term-sequence rule, got %q", flat[root].Text)
	}
	if flat[root].IsFlat {
		t.Fatalf("expected IsFlat false for a non-term-sequence rule")
	}
}
