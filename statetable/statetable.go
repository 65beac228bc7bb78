/*
Package statetable compiles a grammar.Grammar into an LR(0) characteristic
finite state machine and the sparse ACTION/GOTO tables the forest builder
drives against.

Grounded on lr/tables.go (github.com/npillmayer/gorgo/lr): closure/gotoSet
construction over item sets, CFSMState/cfsmEdge, ShiftAction/AcceptAction
sentinels and the overall TableGenerator shape are carried over directly.
Lookahead is deliberately not computed: reductions are resolved by cost
during best-first search rather than by FOLLOW sets, so this package builds
a pure LR(0) automaton rather than an SLR(1) one. Item sets use
github.com/emirpasic/gods (treeset/utils) in place of
lr/iteratable.Set (no concrete implementation of which was available to
build from).
*/
package statetable

import (
	"fmt"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
	"github.com/npillmayer/schuko/tracing"
	"golang.org/x/exp/slices"

	"github.com/kortsch/nlquery/grammar"
)

func tracer() tracing.Trace {
	return tracing.Select("nlquery.statetable")
}

// Item is a dotted rule: Rule with the dot positioned before RHS[Dot]
// (Dot == len(RHS) marks a completed item).
type Item struct {
	Rule *grammar.Rule
	Dot  int
}

// PeekSymbol returns the rhs symbol right after the dot, or nil when the
// item is complete. The dot walks Rule.MatchRHS, not Rule.RHS: an
// insertion rule's omitted symbol is never shifted, so it never appears
// under the dot.
func (it Item) PeekSymbol() *grammar.Symbol {
	if it.Dot >= len(it.Rule.MatchRHS) {
		return nil
	}
	return it.Rule.MatchRHS[it.Dot]
}

// IsComplete reports whether the dot has reached the end of the matched rhs.
func (it Item) IsComplete() bool { return it.Dot >= len(it.Rule.MatchRHS) }

// Advance returns the item with the dot moved one position to the right.
func (it Item) Advance() Item { return Item{Rule: it.Rule, Dot: it.Dot + 1} }

func (it Item) String() string {
	rhs := ""
	for i, s := range it.Rule.RHS {
		if i == it.Dot {
			rhs += "."
		}
		if i > 0 {
			rhs += " "
		}
		rhs += s.Name
	}
	if it.Dot == len(it.Rule.RHS) {
		rhs += "."
	}
	return fmt.Sprintf("%s -> %s", it.Rule.LHS.Name, rhs)
}

// itemComparator orders items by (rule id, dot), so an emirpasic/gods
// treeset can hold them as a canonical, deduplicated, sorted set.
func itemComparator(a, b interface{}) int {
	ia, ib := a.(Item), b.(Item)
	if ia.Rule.ID != ib.Rule.ID {
		return utils.IntComparator(ia.Rule.ID, ib.Rule.ID)
	}
	return utils.IntComparator(ia.Dot, ib.Dot)
}

func newItemSet(items ...Item) *treeset.Set {
	s := treeset.NewWith(itemComparator)
	for _, it := range items {
		s.Add(it)
	}
	return s
}

func itemSetSignature(s *treeset.Set) string {
	sig := ""
	for _, v := range s.Values() {
		it := v.(Item)
		sig += fmt.Sprintf("%d.%d|", it.Rule.ID, it.Dot)
	}
	return sig
}

// State is a node of the characteristic finite state machine: a canonical,
// closed set of items.
type State struct {
	ID     int
	Items  *treeset.Set
	Accept bool // true iff this state contains the completed start-rule item
}

// CFSM is the characteristic finite state machine for a grammar.
type CFSM struct {
	States []*State
	Start  *State
	g      *grammar.Grammar
	edges  []cfsmEdge
}

// closure computes the closure of an item set: repeatedly add, for every
// item with the dot before a nonterminal A, every rule A -> ... at dot 0.
func closure(g *grammar.Grammar, s *treeset.Set) *treeset.Set {
	c := treeset.NewWith(itemComparator)
	for _, v := range s.Values() {
		c.Add(v)
	}
	worklist := append([]interface{}{}, s.Values()...)
	for len(worklist) > 0 {
		v := worklist[0]
		worklist = worklist[1:]
		it := v.(Item)
		A := it.PeekSymbol()
		if A == nil || !A.IsNonterminal() {
			continue
		}
		for _, r := range g.RulesFor(A) {
			ni := Item{Rule: r, Dot: 0}
			if !c.Contains(ni) {
				c.Add(ni)
				worklist = append(worklist, ni)
			}
		}
	}
	return c
}

// gotoSet advances every item in closureSet whose peek symbol equals A.
func gotoSet(closureSet *treeset.Set, A *grammar.Symbol) *treeset.Set {
	out := treeset.NewWith(itemComparator)
	for _, v := range closureSet.Values() {
		it := v.(Item)
		if it.PeekSymbol() == A {
			out.Add(it.Advance())
		}
	}
	return out
}

// Build constructs the CFSM for g by BFS over goto-closures, starting from
// the closure of g's start rules at dot 0.
func Build(g *grammar.Grammar) (*CFSM, error) {
	startItems := newItemSet()
	for _, r := range g.RulesFor(g.Start) {
		startItems.Add(Item{Rule: r, Dot: 0})
	}
	startClosure := closure(g, startItems)

	cfsm := &CFSM{g: g}
	bySig := make(map[string]*State)
	var nextID int

	makeState := func(items *treeset.Set) (*State, bool) {
		sig := itemSetSignature(items)
		if st, ok := bySig[sig]; ok {
			return st, false
		}
		st := &State{ID: nextID, Items: items}
		nextID++
		for _, v := range items.Values() {
			it := v.(Item)
			if it.IsComplete() && it.Rule.LHS == g.Start {
				st.Accept = true
			}
		}
		bySig[sig] = st
		cfsm.States = append(cfsm.States, st)
		return st, true
	}

	start, _ := makeState(startClosure)
	cfsm.Start = start

	worklist := []*State{start}
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]

		symbols := symbolsAfterDot(cur.Items)
		for _, A := range symbols {
			gs := gotoSet(cur.Items, A)
			if gs.Empty() {
				continue
			}
			gc := closure(g, gs)
			next, isNew := makeState(gc)
			cfsm.addEdge(cur, next, A)
			if isNew {
				worklist = append(worklist, next)
			}
		}
	}
	tracer().Debugf("statetable: built CFSM with %d states, %d edges", len(cfsm.States), len(cfsm.edges))
	return cfsm, nil
}

type cfsmEdge struct {
	from, to *State
	label    *grammar.Symbol
}

func (c *CFSM) addEdge(from, to *State, label *grammar.Symbol) {
	c.edges = append(c.edges, cfsmEdge{from, to, label})
}

func symbolsAfterDot(items *treeset.Set) []*grammar.Symbol {
	seen := make(map[*grammar.Symbol]bool)
	var out []*grammar.Symbol
	for _, v := range items.Values() {
		it := v.(Item)
		if A := it.PeekSymbol(); A != nil && !seen[A] {
			seen[A] = true
			out = append(out, A)
		}
	}
	slices.SortFunc(out, func(a, b *grammar.Symbol) bool {
		return a.ID < b.ID || (a.ID == b.ID && a.Kind < b.Kind)
	})
	return out
}

// ActionKind classifies a table action.
type ActionKind uint8

const (
	Error ActionKind = iota
	Shift
	ReduceSingle
	ReducePacked
	Accept
)

// Action is one ACTION-table cell.
type Action struct {
	Kind   ActionKind
	Target int                     // Shift: target state id
	Rule   *grammar.Rule           // ReduceSingle
	Packed *grammar.PackedRuleProps // ReducePacked
}

// MinCost returns the admissible cost contribution of taking this action.
func (a Action) MinCost() float64 {
	switch a.Kind {
	case ReduceSingle, Accept:
		if a.Rule != nil {
			return a.Rule.Cost
		}
		if a.Packed != nil {
			return a.Packed.MinCost
		}
		return 0
	case ReducePacked:
		return a.Packed.MinCost
	default:
		return 0
	}
}

// Table holds the sparse ACTION/GOTO matrices keyed by state id and symbol.
type Table struct {
	Action map[int]map[int32]Action // state id -> terminal symbol id -> Action
	Goto   map[int]map[int32]int    // state id -> nonterminal symbol id -> target state id
	States []*State
	Start  int
	g      *grammar.Grammar
}

// Grammar returns the grammar this table was compiled from.
func (t *Table) Grammar() *grammar.Grammar { return t.g }

// StateByID looks up a compiled state.
func (t *Table) StateByID(id int) *State {
	for _, s := range t.States {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Compile builds the full Table (CFSM + ACTION/GOTO matrices) for g.
func Compile(g *grammar.Grammar) (*Table, error) {
	cfsm, err := Build(g)
	if err != nil {
		return nil, err
	}
	t := &Table{
		Action: make(map[int]map[int32]Action),
		Goto:   make(map[int]map[int32]int),
		States: cfsm.States,
		Start:  cfsm.Start.ID,
		g:      g,
	}
	packed := g.PackedInsertions()

	for _, e := range cfsm.edges {
		if e.label.IsNonterminal() {
			if t.Goto[e.from.ID] == nil {
				t.Goto[e.from.ID] = make(map[int32]int)
			}
			t.Goto[e.from.ID][e.label.ID] = e.to.ID
		} else {
			if t.Action[e.from.ID] == nil {
				t.Action[e.from.ID] = make(map[int32]Action)
			}
			t.Action[e.from.ID][e.label.ID] = Action{Kind: Shift, Target: e.to.ID}
		}
	}

	for _, st := range cfsm.States {
		var completed, completedStart []Item
		for _, v := range st.Items.Values() {
			it := v.(Item)
			if !it.IsComplete() {
				continue
			}
			if it.Rule.LHS == g.Start {
				completedStart = append(completedStart, it)
			} else {
				completed = append(completed, it)
			}
		}
		if len(completedStart) > 0 {
			action, err := resolveReduce(completedStart, packed)
			if err != nil {
				return nil, fmt.Errorf("statetable: state %d (accept): %w", st.ID, err)
			}
			action.Kind = Accept
			if t.Action[st.ID] == nil {
				t.Action[st.ID] = make(map[int32]Action)
			}
			// Accept lives under a reserved sentinel column distinct from
			// both the terminal and nonterminal id spaces (both of which
			// start at 0), so it never collides with a real shift action.
			t.Action[st.ID][acceptColumn] = action
		}
		if len(completed) == 0 {
			continue
		}
		action, err := resolveReduce(completed, packed)
		if err != nil {
			return nil, fmt.Errorf("statetable: state %d: %w", st.ID, err)
		}
		if t.Action[st.ID] == nil {
			t.Action[st.ID] = make(map[int32]Action)
		}
		// A pure LR(0) reduce state reduces regardless of lookahead; store
		// it once, under the wildcard column that Lookup falls back to.
		t.Action[st.ID][wildcardColumn] = action
	}
	return t, nil
}

// wildcardColumn and acceptColumn are ids no real symbol occupies (symbol
// ids start at 0 in both the terminal and nonterminal id spaces): the
// former is the reduce fallback column for a state with no competing shift
// on the current input symbol, the latter marks the accept action.
const (
	wildcardColumn int32 = -1
	acceptColumn   int32 = -2
)

func resolveReduce(completed []Item, packed map[string]*grammar.PackedRuleProps) (Action, error) {
	if len(completed) == 1 {
		return Action{Kind: ReduceSingle, Rule: completed[0].Rule}, nil
	}
	// All completed items must belong to the same packed insertion group
	// (shared lhs and non-inserted rhs symbol) to share one action; this is
	// the only legal multi-completed-item state in an LR(0) table built
	// from this grammar.
	var group *grammar.PackedRuleProps
	for _, it := range completed {
		key, ok := packKeyOf(it.Rule)
		if !ok {
			tracer().Errorf("statetable: reduce-reduce conflict on rule %s", it.Rule)
			return Action{}, fmt.Errorf("reduce-reduce conflict on rule %s", it.Rule)
		}
		g := packed[key]
		if g == nil {
			tracer().Errorf("statetable: reduce-reduce conflict: rule %s has no packed group", it.Rule)
			return Action{}, fmt.Errorf("reduce-reduce conflict: rule %s has no packed group", it.Rule)
		}
		if group == nil {
			group = g
		} else if group != g {
			tracer().Errorf("statetable: reduce-reduce conflict across distinct packed groups")
			return Action{}, fmt.Errorf("reduce-reduce conflict across distinct packed groups")
		}
	}
	return Action{Kind: ReducePacked, Packed: group}, nil
}

func packKeyOf(r *grammar.Rule) (string, bool) {
	if r.InsertedSymIdx != 0 && r.InsertedSymIdx != 1 {
		return "", false
	}
	other := 1 - r.InsertedSymIdx
	if int(other) >= len(r.RHS) {
		return "", false
	}
	return fmt.Sprintf("%d|%s", r.LHS.ID, r.RHS[other].Name), true
}

// Lookup returns the action for (state, terminal), falling back to the
// state's wildcard reduce action when no shift is registered for terminal.
func (t *Table) Lookup(stateID int, terminal *grammar.Symbol) (Action, bool) {
	row := t.Action[stateID]
	if row == nil {
		return Action{}, false
	}
	if terminal != nil {
		if a, ok := row[terminal.ID]; ok {
			return a, true
		}
	}
	a, ok := row[wildcardColumn]
	return a, ok
}

// LookupAccept reports whether stateID carries an accept action.
func (t *Table) LookupAccept(stateID int) bool {
	row := t.Action[stateID]
	if row == nil {
		return false
	}
	a, ok := row[acceptColumn]
	return ok && a.Kind == Accept
}
