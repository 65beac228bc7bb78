package pfsearch

import (
	"testing"

	"github.com/kortsch/nlquery/forest"
	"github.com/kortsch/nlquery/grammar"
	"github.com/kortsch/nlquery/heuristic"
	"github.com/kortsch/nlquery/matcher"
	"github.com/kortsch/nlquery/semantic"
	"github.com/kortsch/nlquery/statetable"
)

func buildSimple(t *testing.T) (*grammar.Grammar, *statetable.Table) {
	t.Helper()
	doc := &grammar.Doc{
		RuleSets: map[string][]grammar.RuleSpec{
			"query": {{RHS: []string{"find", "person"}, InsertedSymIdx: -1}},
			"person": {
				{RHS: []string{"NAME"}, IsTerminal: true, InsertedSymIdx: -1},
			},
		},
		Deletables:  map[string]bool{"please": true},
		StartSymbol: "query",
		BlankSymbol: "BLANK",
	}
	g, err := grammar.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	table, err := statetable.Compile(g)
	if err != nil {
		t.Fatalf("statetable.Compile: %v", err)
	}
	return g, table
}

func searchQuery(t *testing.T, query string, nameAt int) []*Result {
	t.Helper()
	g, table := buildSimple(t)
	toks, err := matcher.Tokenize(query)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	toks[nameAt].Lexeme = "NAME"
	matches := matcher.MatchAll(g, toks, nil, false)
	f, err := forest.Build(table, toks, matches, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(f.AcceptVertices) == 0 {
		t.Fatalf("expected at least one accept vertex for %q", query)
	}
	root := f.Root(f.AcceptVertices[0])
	costs := heuristic.Annotate(root)
	results, err := Search(f, costs, g, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result for %q", query)
	}
	return results
}

func TestSearchSingleDerivation(t *testing.T) {
	results := searchQuery(t, "find NAME", 1)
	if results[0].Cost != 0 {
		t.Fatalf("expected zero-cost derivation, got %v", results[0].Cost)
	}
	if results[0].Text != "find NAME" {
		t.Fatalf("expected text 'find NAME', got %q", results[0].Text)
	}
}

func TestSearchAbsorbsDeletionCost(t *testing.T) {
	results := searchQuery(t, "find please NAME", 2)
	if results[0].Cost != 1.0 {
		t.Fatalf("expected deletion cost 1.0 for dropping 'please', got %v", results[0].Cost)
	}
}

func TestSearchOrdersByCostAscending(t *testing.T) {
	results := searchQuery(t, "find NAME", 1)
	for i := 1; i < len(results); i++ {
		if results[i].Cost < results[i-1].Cost {
			t.Fatalf("results not cost-sorted ascending: %+v", results)
		}
	}
}

func TestSearchNoAcceptVerticesYieldsEmptyNoError(t *testing.T) {
	f := &forest.Forest{}
	results, err := Search(f, heuristic.MinCosts{}, nil, 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results for a forest with no accept vertices, got %v", results)
	}
}

// buildTermSequence wires a pure-text "phrase -> alpha beta" rule flagged
// IsTermSequence, so Search must flatten it into a single merged derivation
// through heuristic.Flatten rather than enumerating it family by family.
func buildTermSequence(t *testing.T) (*grammar.Grammar, *statetable.Table) {
	t.Helper()
	doc := &grammar.Doc{
		RuleSets: map[string][]grammar.RuleSpec{
			"query": {{RHS: []string{"find", "phrase"}, InsertedSymIdx: -1}},
			"phrase": {
				{
					RHS:                    []string{"alpha", "beta"},
					InsertedSymIdx:         -1,
					IsTermSequence:         true,
					RHSTermSequenceIndexes: []int{0, 1},
				},
			},
		},
		StartSymbol: "query",
		BlankSymbol: "BLANK",
	}
	g, err := grammar.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	table, err := statetable.Compile(g)
	if err != nil {
		t.Fatalf("statetable.Compile: %v", err)
	}
	return g, table
}

// buildConjugatedInsertion wires an inserted rhs position ("AUX") whose
// surface text depends on the tense carried by its sibling subtree ("person",
// itself tagged Tense: "past"), exercising resolveInsertedText's Conj lookup
// and confirming the inserted text is emitted exactly once (not also via the
// forest's synthesized leaf).
func buildConjugatedInsertion(t *testing.T) (*grammar.Grammar, *statetable.Table) {
	t.Helper()
	doc := &grammar.Doc{
		RuleSets: map[string][]grammar.RuleSpec{
			"query": {
				{
					RHS:            []string{"person", "AUX"},
					InsertedSymIdx: 1,
					Text: grammar.Text{
						Literal: "is",
						Conj:    map[string]string{grammar.ConjKey("", "past", ""): "was"},
					},
				},
			},
			"person": {
				{RHS: []string{"NAME"}, IsTerminal: true, InsertedSymIdx: -1, Tense: "past"},
			},
		},
		StartSymbol: "query",
		BlankSymbol: "BLANK",
	}
	g, err := grammar.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	table, err := statetable.Compile(g)
	if err != nil {
		t.Fatalf("statetable.Compile: %v", err)
	}
	return g, table
}

func TestSearchResolvesConjugatedInsertionExactlyOnce(t *testing.T) {
	g, table := buildConjugatedInsertion(t)
	toks, err := matcher.Tokenize("bob")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	toks[0].Lexeme = "NAME"
	matches := matcher.MatchAll(g, toks, nil, false)
	f, err := forest.Build(table, toks, matches, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(f.AcceptVertices) == 0 {
		t.Fatalf("expected at least one accept vertex")
	}
	root := f.Root(f.AcceptVertices[0])
	costs := heuristic.Annotate(root)
	results, err := Search(f, costs, g, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Text != "was NAME" {
		t.Fatalf("expected the past-tense conjugated insertion 'was NAME' emitted once, got %q", results[0].Text)
	}
}

func TestCombineSemanticsRejectsConflictingUniqueTags(t *testing.T) {
	tag := &semantic.Function{Name: "tag", MinArity: 1, MaxArity: 1, Unique: true}
	tagX, err := semantic.Reduce(tag, semantic.Array{semantic.Leaf("x")})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	rule := &grammar.Rule{RHSCanProduceSemantic: true, SecondRHSCanProduceSemantic: true}
	children := []*Derivation{
		{Semantic: semantic.Array{tagX}},
		{Semantic: semantic.Array{tagX}},
	}
	if _, err := combineSemantics(rule, children); err != semantic.ErrConflict {
		t.Fatalf("expected ErrConflict for two siblings tagging the same unique argument, got %v", err)
	}
}

// buildTransposed wires a rule flagged IsTransposition, whose two children
// must be emitted in swapped order.
func buildTransposed(t *testing.T) (*grammar.Grammar, *statetable.Table) {
	t.Helper()
	doc := &grammar.Doc{
		RuleSets: map[string][]grammar.RuleSpec{
			"query": {{RHS: []string{"alpha", "beta"}, InsertedSymIdx: -1, IsTransposition: true}},
		},
		StartSymbol: "query",
		BlankSymbol: "BLANK",
	}
	g, err := grammar.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	table, err := statetable.Compile(g)
	if err != nil {
		t.Fatalf("statetable.Compile: %v", err)
	}
	return g, table
}

func TestSearchEmitsTransposedChildren(t *testing.T) {
	g, table := buildTransposed(t)
	toks, err := matcher.Tokenize("alpha beta")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	matches := matcher.MatchAll(g, toks, nil, false)
	f, err := forest.Build(table, toks, matches, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(f.AcceptVertices) == 0 {
		t.Fatalf("expected at least one accept vertex")
	}
	root := f.Root(f.AcceptVertices[0])
	costs := heuristic.Annotate(root)
	results, err := Search(f, costs, g, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Text != "beta alpha" {
		t.Fatalf("expected transposed text 'beta alpha', got %q", results[0].Text)
	}
}

// buildGramPropsConjugation wires a rule requesting a non-inserted child be
// read in its past-participle conjugated form via GramProps, exercising
// resolveText's GramProps/ConjText lookup (as opposed to an inserted
// position's own resolveInsertedText path).
func buildGramPropsConjugation(t *testing.T) (*grammar.Grammar, *statetable.Table) {
	t.Helper()
	doc := &grammar.Doc{
		RuleSets: map[string][]grammar.RuleSpec{
			"query": {
				{
					RHS:            []string{"find", "verb"},
					InsertedSymIdx: -1,
					GramProps: []*grammar.GramProps{
						nil,
						{Form: "past-participle"},
					},
				},
			},
			"verb": {
				{
					RHS: []string{"GO"}, IsTerminal: true, InsertedSymIdx: -1,
					Text: grammar.Text{
						Literal: "go",
						Conj:    map[string]string{grammar.ConjKey("past-participle", "", ""): "gone"},
					},
				},
			},
		},
		StartSymbol: "query",
		BlankSymbol: "BLANK",
	}
	g, err := grammar.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	table, err := statetable.Compile(g)
	if err != nil {
		t.Fatalf("statetable.Compile: %v", err)
	}
	return g, table
}

func TestSearchResolvesGramPropsConjugation(t *testing.T) {
	g, table := buildGramPropsConjugation(t)
	toks, err := matcher.Tokenize("find GO")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	toks[1].Lexeme = "GO"
	matches := matcher.MatchAll(g, toks, nil, false)
	f, err := forest.Build(table, toks, matches, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(f.AcceptVertices) == 0 {
		t.Fatalf("expected at least one accept vertex")
	}
	root := f.Root(f.AcceptVertices[0])
	costs := heuristic.Annotate(root)
	results, err := Search(f, costs, g, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Text != "find gone" {
		t.Fatalf("expected the past-participle conjugated form 'find gone', got %q", results[0].Text)
	}
}

func TestSearchFlattensTermSequence(t *testing.T) {
	g, table := buildTermSequence(t)
	toks, err := matcher.Tokenize("find alpha beta")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	matches := matcher.MatchAll(g, toks, nil, false)
	f, err := forest.Build(table, toks, matches, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(f.AcceptVertices) == 0 {
		t.Fatalf("expected at least one accept vertex")
	}
	root := f.Root(f.AcceptVertices[0])
	costs := heuristic.Annotate(root)
	results, err := Search(f, costs, g, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Text != "find alpha beta" {
		t.Fatalf("expected flattened text 'find alpha beta', got %q", results[0].Text)
	}
}
