package matcher

import (
	"testing"

	"github.com/kortsch/nlquery/entity"
	"github.com/kortsch/nlquery/grammar"
)

func TestTokenizeLowercasesAndSkipsPunctuation(t *testing.T) {
	toks, err := Tokenize("Find Jeb Bush, please!")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	want := []string{"find", "jeb", "bush", "please"}
	if len(toks) != len(want) {
		t.Fatalf("expected %d tokens, got %d (%v)", len(want), len(toks), toks)
	}
	for i, w := range want {
		if toks[i].Lexeme != w {
			t.Fatalf("token %d: want %q got %q", i, w, toks[i].Lexeme)
		}
	}
}

func TestTokenizeNumbers(t *testing.T) {
	toks, err := Tokenize("issue 42")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(toks) != 2 || toks[1].Lexeme != "42" {
		t.Fatalf("unexpected tokens: %v", toks)
	}
}

func testGrammar(t *testing.T) *grammar.Grammar {
	t.Helper()
	doc := &grammar.Doc{
		RuleSets: map[string][]grammar.RuleSpec{
			"query": {{RHS: []string{"find", "person"}, InsertedSymIdx: -1}},
			"person": {
				{RHS: []string{"PERSON"}, IsTerminal: true, IsPlaceholder: true, InsertedSymIdx: -1},
			},
		},
		IntSymbols: []grammar.IntSymbolSpec{{Name: "INT", Min: 0, Max: 999}},
		EntitySets: map[string][]*entity.Record{
			"person": {{ID: "p1", Category: "person", Surface: "Jeb Bush", Tokens: []string{"jeb", "bush"}}},
		},
		Deletables:  map[string]bool{"please": true},
		StartSymbol: "query",
		BlankSymbol: "BLANK",
	}
	g, err := grammar.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return g
}

func TestMatchAllLiteralAndDeletable(t *testing.T) {
	g := testGrammar(t)
	toks, _ := Tokenize("find please")
	matches := MatchAll(g, toks, map[string]*grammar.Symbol{}, false)
	if len(matches[0].Terminals) != 1 || matches[0].Terminals[0].Name != "find" {
		t.Fatalf("expected literal match on 'find', got %+v", matches[0])
	}
	if !matches[1].Deletable {
		t.Fatalf("expected 'please' to be deletable")
	}
}

func TestMatchAllEntitySpan(t *testing.T) {
	g := testGrammar(t)
	var personSym *grammar.Symbol
	for _, s := range g.Terminals {
		if s.Name == "PERSON" {
			personSym = s
		}
	}
	toks, _ := Tokenize("find jeb bush")
	matches := MatchAll(g, toks, map[string]*grammar.Symbol{"person": personSym}, false)
	if len(matches[1].Entities) != 1 || matches[1].Entities[0].Length != 2 {
		t.Fatalf("expected a 2-token entity span starting at 'jeb', got %+v", matches[1].Entities)
	}
}

func TestMatchAllIntSymbol(t *testing.T) {
	g := testGrammar(t)
	toks, _ := Tokenize("issue 007")
	matches := MatchAll(g, toks, map[string]*grammar.Symbol{}, false)
	if len(matches[1].IntSyms) != 1 {
		t.Fatalf("expected leading-zero '007' to match int range, got %+v", matches[1])
	}
}

func TestMatchAllEntityMergesAcrossDeletion(t *testing.T) {
	doc := &grammar.Doc{
		RuleSets: map[string][]grammar.RuleSpec{
			"query": {{RHS: []string{"find", "person"}, InsertedSymIdx: -1}},
			"person": {
				{RHS: []string{"PERSON"}, IsTerminal: true, IsPlaceholder: true, InsertedSymIdx: -1},
			},
		},
		EntitySets: map[string][]*entity.Record{
			"person": {{ID: "p1", Category: "person", Surface: "Jeb Bush", Tokens: []string{"jeb", "bush"}}},
		},
		Deletables:  map[string]bool{"and": true},
		StartSymbol: "query",
		BlankSymbol: "BLANK",
	}
	g, err := grammar.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var personSym *grammar.Symbol
	for _, s := range g.Terminals {
		if s.Name == "PERSON" {
			personSym = s
		}
	}
	toks, err := Tokenize("find jeb and bush")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	matches := MatchAll(g, toks, map[string]*grammar.Symbol{"person": personSym}, false)
	spans := matches[1].Entities
	if len(spans) != 1 {
		t.Fatalf("expected a single merged entity span starting at 'jeb', got %+v", spans)
	}
	if spans[0].ID != "p1" || spans[0].Length != 3 {
		t.Fatalf("expected 'jeb and bush' to merge into a 3-token span for p1, got %+v", spans[0])
	}
	if spans[0].Cost != 1.0 {
		t.Fatalf("expected the bridged 'and' to absorb declared-deletable cost 1.0, got %v", spans[0].Cost)
	}
}

func TestCleanIntegerForms(t *testing.T) {
	cases := map[string]int{
		"007":  7,
		"0x1F": 31,
		"1e2":  100,
		"3.9":  4,
		"2.7":  3,
	}
	for in, want := range cases {
		got, ok := cleanInteger(in)
		if !ok || got != want {
			t.Fatalf("cleanInteger(%q) = %d,%v want %d", in, got, ok, want)
		}
	}
}
