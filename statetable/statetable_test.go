package statetable

import (
	"testing"

	"github.com/kortsch/nlquery/grammar"
)

func smallGrammar(t *testing.T) *grammar.Grammar {
	t.Helper()
	doc := &grammar.Doc{
		RuleSets: map[string][]grammar.RuleSpec{
			"query": {
				{RHS: []string{"find", "person"}, InsertedSymIdx: -1},
			},
			"person": {
				{RHS: []string{"NAME"}, IsTerminal: true, InsertedSymIdx: -1},
			},
		},
		StartSymbol: "query",
		BlankSymbol: "BLANK",
	}
	g, err := grammar.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return g
}

func TestCompileBuildsShiftReduceAccept(t *testing.T) {
	g := smallGrammar(t)
	table, err := Compile(g)
	if err != nil {
		t.Fatalf("statetable.Compile: %v", err)
	}
	if table.StateByID(table.Start) == nil {
		t.Fatalf("start state missing")
	}

	// find "find" symbol and shift on it from the start state.
	var findSym *grammar.Symbol
	for _, s := range g.Terminals {
		if s.Name == "find" {
			findSym = s
		}
	}
	if findSym == nil {
		t.Fatalf("grammar did not register terminal 'find'")
	}
	a, ok := table.Lookup(table.Start, findSym)
	if !ok || a.Kind != Shift {
		t.Fatalf("expected shift on 'find' from start state, got %+v (ok=%v)", a, ok)
	}

	// Walk find -> NAME and expect a reduce then accept.
	afterFind := a.Target
	var nameSym *grammar.Symbol
	for _, s := range g.Terminals {
		if s.Name == "NAME" {
			nameSym = s
		}
	}
	shiftName, ok := table.Lookup(afterFind, nameSym)
	if !ok || shiftName.Kind != Shift {
		t.Fatalf("expected shift on NAME, got %+v (ok=%v)", shiftName, ok)
	}
	afterName := shiftName.Target
	reduce, ok := table.Lookup(afterName, nil)
	if !ok || reduce.Kind != ReduceSingle || reduce.Rule.LHS.Name != "person" {
		t.Fatalf("expected reduce by person -> NAME, got %+v (ok=%v)", reduce, ok)
	}

	gotoState, ok := table.Goto[afterFind][person(g).ID]
	if !ok {
		t.Fatalf("expected goto entry on 'person' from state %d", afterFind)
	}
	if !table.LookupAccept(gotoState) {
		t.Fatalf("expected accept at state %d", gotoState)
	}
}

func person(g *grammar.Grammar) *grammar.Symbol {
	for _, s := range g.Nonterminals {
		if s.Name == "person" {
			return s
		}
	}
	return nil
}

func TestReduceReduceConflictDetected(t *testing.T) {
	doc := &grammar.Doc{
		RuleSets: map[string][]grammar.RuleSpec{
			"query": {
				{RHS: []string{"a"}, IsTerminal: true, InsertedSymIdx: -1},
			},
			"other": {
				{RHS: []string{"a"}, IsTerminal: true, InsertedSymIdx: -1},
			},
			"top": {
				{RHS: []string{"query"}, InsertedSymIdx: -1},
				{RHS: []string{"other"}, InsertedSymIdx: -1},
			},
		},
		StartSymbol: "top",
		BlankSymbol: "BLANK",
	}
	g, err := grammar.Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// query and other both reduce from "a" at the same state with no
	// shared packed group: this must surface as an error, not silently
	// pick one.
	if _, err := Compile(g); err == nil {
		t.Fatalf("expected reduce-reduce conflict error")
	}
}
