/*
Package grammar holds the immutable data model a finalised grammar is
described by: symbols, annotated rules, semantics, entities and int-ranges,
ready to be compiled into a state table (package statetable). Package
grammar itself does not implement a rule-authoring DSL: the grammar-authoring
front end is an external collaborator, and grammar only consumes an
already-finalised Doc, compiling it into the id-space and lookup structures
the rest of the pipeline needs.

Grounded on the Symbol/Rule/Grammar surface implied by
github.com/npillmayer/gorgo/lr (lr.Symbol, lr.Rule, lr.Grammar, referenced
throughout lr/tables.go, e.g. EachSymbol, FindNonTermRules, matchesRHS), with
the authoring builder (lr.GrammarBuilder) deliberately not reproduced.
*/
package grammar

import (
	"fmt"

	"github.com/npillmayer/schuko/tracing"
	"golang.org/x/exp/slices"

	"github.com/kortsch/nlquery/entity"
	"github.com/kortsch/nlquery/semantic"
)

func tracer() tracing.Trace {
	return tracing.Select("nlquery.grammar")
}

// SymbolKind classifies a Symbol.
type SymbolKind uint8

const (
	Nonterminal SymbolKind = iota
	Terminal
	// Placeholder symbols (entity categories, integer symbols, the blank)
	// never match a literal input token; they are inserted by the matcher.
	Placeholder
)

func (k SymbolKind) String() string {
	switch k {
	case Nonterminal:
		return "N"
	case Terminal:
		return "T"
	case Placeholder:
		return "P"
	}
	return "?"
}

// Symbol is identified by a stable id (separate id spaces for nonterminals
// and terminals) and carries a debug-only name.
type Symbol struct {
	ID   int32
	Name string
	Kind SymbolKind
}

func (s *Symbol) IsTerminal() bool    { return s != nil && (s.Kind == Terminal || s.Kind == Placeholder) }
func (s *Symbol) IsNonterminal() bool { return s != nil && s.Kind == Nonterminal }
func (s *Symbol) IsPlaceholder() bool { return s != nil && s.Kind == Placeholder }
func (s *Symbol) String() string      { return fmt.Sprintf("%s[%s:%d]", s.Name, s.Kind, s.ID) }

// GramProps are per-rhs-index conjugation directives an ancestor rule
// contributes to one of its children.
type GramProps struct {
	Form          string // e.g. infinitive, past-participle, plural-present
	AcceptedTense string // honour the input tense of this subtree, if present
}

// Text is a rule's display-text annotation: a literal, a conjugation object
// keyed by form/tense/person-number, or an ordered list of such items for
// multi-token inserts/substitutions.
type Text struct {
	Literal string
	Conj    map[string]string // key: "<form>|<tense>|<personNumber>" -> surface text
	List    []Text
}

// IsZero reports whether t carries no display text at all.
func (t Text) IsZero() bool {
	return t.Literal == "" && t.Conj == nil && t.List == nil
}

// ConjKey builds the lookup key for Text.Conj from all three parts. Callers
// look up that one exact key; there is no fallback to a key with fewer parts
// set, and no precedence among tense, form and person-number.
func ConjKey(form, tense, personNumber string) string {
	return form + "|" + tense + "|" + personNumber
}

// Rule belongs to a left-hand-side Symbol and has an rhs of length 1
// (terminal rules) or 1-2 (nonterminal rules), plus the full set of
// semantic/text/conjugation annotations a reduction may carry.
type Rule struct {
	ID  int
	LHS *Symbol
	RHS []*Symbol // len 1 (rhs is the terminal) or 1-2

	Cost float64 // base cost plus any edit penalty

	Semantic          semantic.Array // attached semantic array, if any
	SemanticIsReduced bool           // true when Semantic is already a reduced RHS fragment
	InsertedSemantic  *semantic.Node // reduced semantic contributed by an inserted child

	// InsertedSymIdx marks an insertion edit: -1 means no insertion, 0 or 1
	// names which rhs child is the one actually inserted (absent from the
	// input), with Text supplying its surface form.
	InsertedSymIdx int8

	Text Text

	GramProps []*GramProps // len(RHS), nil entries allowed

	PersonNumber         string // sets person-number context for downstream conjugation
	AnaphoraPersonNumber string // binds an antecedent for later anaphora resolution

	IsTransposition bool // when reduced, swap the two rhs subnodes
	Tense           string

	RHSCanProduceSemantic       bool
	SecondRHSCanProduceSemantic bool
	RHSDoesNotProduceText       bool
	IsPlaceholder               bool

	IsTermSequence         bool
	RHSTermSequenceIndexes []int
	RHSNoTextIndexes       []int

	// MatchRHS is RHS with the inserted position (if any) removed: the
	// symbols the automaton actually shifts. An insertion rule's omitted
	// symbol is never shifted; it is synthesized from Text only once this
	// rule is chosen at reduce time.
	MatchRHS []*Symbol
}

func (r *Rule) String() string {
	rhs := ""
	for i, s := range r.RHS {
		if i > 0 {
			rhs += " "
		}
		rhs += s.Name
	}
	return fmt.Sprintf("%d: %s -> %s", r.ID, r.LHS.Name, rhs)
}

// IsBinary reports whether r has two rhs symbols.
func (r *Rule) IsBinary() bool { return len(r.RHS) == 2 }

// PackedRuleProps bundles insertion rules sharing lhs and non-inserted rhs
// into one state-table action, sorted ascending by cost with the minimum
// cached for the heuristic pre-pass.
type PackedRuleProps struct {
	Rules   []*Rule
	MinCost float64
}

// matchRHS returns rhs with the symbol at insertedIdx removed (or rhs
// unchanged when insertedIdx is out of range, i.e. no insertion).
func matchRHS(rhs []*Symbol, insertedIdx int8) []*Symbol {
	if insertedIdx < 0 || int(insertedIdx) >= len(rhs) {
		return rhs
	}
	out := make([]*Symbol, 0, len(rhs)-1)
	for i, s := range rhs {
		if i == int(insertedIdx) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func packRules(rules []*Rule) *PackedRuleProps {
	slices.SortFunc(rules, func(a, b *Rule) bool { return a.Cost < b.Cost })
	return &PackedRuleProps{Rules: rules, MinCost: rules[0].Cost}
}

// IntSymbol is a placeholder terminal matching any integer within
// [Min, Max].
type IntSymbol struct {
	Symbol *Symbol
	Min    int
	Max    int
}

// Grammar is the immutable compiled grammar: symbols, rules, semantics,
// entities and int-ranges, ready for package statetable to compile.
type Grammar struct {
	Start *Symbol
	Blank *Symbol

	Nonterminals []*Symbol
	Terminals    []*Symbol // includes placeholders

	Rules      []*Rule
	rulesByLHS map[int32][]*Rule

	Deletables map[string]bool
	IntSymbols []*IntSymbol // sorted ascending (Min, then Max)

	Semantics map[string]*semantic.Function
	Entities  *entity.Index

	// EntityCategorySymbols binds each entity category to the placeholder
	// terminal symbol the matcher shifts a matched alias span as.
	EntityCategorySymbols map[string]*Symbol

	Interner *semantic.Interner

	insertionGroups map[string]*pendingInsertion
}

// RulesFor returns every rule whose lhs is A, in authoring order.
func (g *Grammar) RulesFor(A *Symbol) []*Rule { return g.rulesByLHS[A.ID] }

// EachSymbol iterates over every symbol (nonterminals, then terminals) in a
// stable order.
func (g *Grammar) EachSymbol(f func(*Symbol)) {
	for _, s := range g.Nonterminals {
		f(s)
	}
	for _, s := range g.Terminals {
		f(s)
	}
}

// --- Doc: the external, pre-finalised grammar description -----------------

// RuleSpec is one authored rule inside a Doc.
type RuleSpec struct {
	RHS           []string
	IsTerminal    bool
	IsPlaceholder bool
	Cost          float64

	Semantic          semantic.Array
	SemanticIsReduced bool
	InsertedSemantic  *semantic.Node

	Text      Text
	GramProps []*GramProps

	PersonNumber         string
	AnaphoraPersonNumber string
	InsertedSymIdx       int8 // -1 for "none"
	IsTransposition      bool
	Tense                string

	RHSCanProduceSemantic       bool
	SecondRHSCanProduceSemantic bool
	RHSDoesNotProduceText       bool

	IsTermSequence         bool
	RHSTermSequenceIndexes []int
	RHSNoTextIndexes       []int
}

// IntSymbolSpec is one authored integer-range placeholder.
type IntSymbolSpec struct {
	Name     string
	Min, Max int
}

// Doc is the finalised grammar document the core consumes.
type Doc struct {
	RuleSets   map[string][]RuleSpec
	Semantics  map[string]*semantic.Function
	EntitySets map[string][]*entity.Record
	IntSymbols []IntSymbolSpec
	Deletables map[string]bool
	// EntityCategorySymbols binds each entity category name (as carried on
	// entity.Record.Category) to the placeholder terminal symbol name the
	// matcher should shift a matched alias span as.
	EntityCategorySymbols map[string]string
	StartSymbol           string
	BlankSymbol           string
}

// Compile turns a finalised Doc into an immutable Grammar, assigning symbol
// ids (separate nonterminal/terminal spaces) and packing insertion rules.
// Returns a grammar validation error for an unknown start symbol, an
// inserted rhs position naming a nonterminal, or an entity category bound
// to an unknown terminal; any other rhs name that is not a nonterminal is
// declared as a new terminal.
func Compile(doc *Doc) (*Grammar, error) {
	g := &Grammar{
		rulesByLHS: make(map[int32][]*Rule),
		Deletables: doc.Deletables,
		Semantics:  doc.Semantics,
		Interner:   semantic.NewInterner(),
	}
	if g.Deletables == nil {
		g.Deletables = map[string]bool{}
	}

	// Pass 1: intern nonterminal symbols (every key of RuleSets); the start
	// symbol must be one of them.
	nonterm := make(map[string]*Symbol)
	var nextNT int32
	internNT := func(name string) *Symbol {
		if s, ok := nonterm[name]; ok {
			return s
		}
		s := &Symbol{ID: nextNT, Name: name, Kind: Nonterminal}
		nextNT++
		nonterm[name] = s
		g.Nonterminals = append(g.Nonterminals, s)
		return s
	}
	for lhs := range doc.RuleSets {
		internNT(lhs)
	}
	start, ok := nonterm[doc.StartSymbol]
	if !ok {
		tracer().Errorf("grammar: unknown start symbol %q", doc.StartSymbol)
		return nil, fmt.Errorf("grammar: unknown start symbol %q", doc.StartSymbol)
	}
	g.Start = start

	// Pass 2: intern terminal/placeholder symbols: literal rhs terminals,
	// entity categories, int symbols, the blank.
	term := make(map[string]*Symbol)
	var nextT int32
	internT := func(name string, kind SymbolKind) *Symbol {
		if s, ok := term[name]; ok {
			return s
		}
		s := &Symbol{ID: nextT, Name: name, Kind: kind}
		nextT++
		term[name] = s
		g.Terminals = append(g.Terminals, s)
		return s
	}
	blank := internT(doc.BlankSymbol, Placeholder)
	g.Blank = blank
	g.Entities = entity.NewIndex(flattenEntitySets(doc.EntitySets))

	for _, sym := range doc.IntSymbols {
		s := internT(sym.Name, Placeholder)
		g.IntSymbols = append(g.IntSymbols, &IntSymbol{Symbol: s, Min: sym.Min, Max: sym.Max})
	}
	slices.SortFunc(g.IntSymbols, func(a, b *IntSymbol) bool {
		if a.Min != b.Min {
			return a.Min < b.Min
		}
		return a.Max < b.Max
	})

	// Pass 3: materialise rules, resolving every rhs symbol reference. A
	// name already declared as an lhs (a RuleSets key) is a nonterminal
	// reference; everything else is a terminal, auto-declared on first
	// use (a Placeholder when the rule spec says so: entity categories,
	// int ranges and the blank already went through internT above and are
	// found here rather than recreated).
	var nextRuleID int
	lookupSymbol := func(name string, forceTerminal, isPlaceholder bool) (*Symbol, error) {
		if n, ok := nonterm[name]; ok && !forceTerminal {
			return n, nil
		}
		if s, ok := term[name]; ok {
			return s, nil
		}
		if _, isNT := nonterm[name]; isNT && forceTerminal {
			return nil, fmt.Errorf("grammar: %q declared as a nonterminal but referenced as an inserted terminal", name)
		}
		kind := Terminal
		if isPlaceholder {
			kind = Placeholder
		}
		return internT(name, kind), nil
	}

	insertionGroups := make(map[string]*pendingInsertion)

	for lhsName, specs := range doc.RuleSets {
		lhs := nonterm[lhsName]
		for _, spec := range specs {
			rhsSyms := make([]*Symbol, 0, len(spec.RHS))
			for i, rhsName := range spec.RHS {
				// An inserted rhs position names text fabricated by the
				// matcher rather than matched against input; resolve or
				// declare it as a terminal regardless of rule shape.
				isInserted := int(spec.InsertedSymIdx) == i
				isTerm := isInserted || (spec.IsTerminal && i == 0 && len(spec.RHS) == 1)
				sym, err := lookupSymbol(rhsName, isTerm, spec.IsPlaceholder)
				if err != nil {
					return nil, err
				}
				rhsSyms = append(rhsSyms, sym)
			}
			rule := &Rule{
				ID:                           nextRuleID,
				LHS:                          lhs,
				RHS:                          rhsSyms,
				Cost:                         spec.Cost,
				Semantic:                     spec.Semantic,
				SemanticIsReduced:            spec.SemanticIsReduced,
				InsertedSemantic:             spec.InsertedSemantic,
				InsertedSymIdx:               spec.InsertedSymIdx,
				Text:                         spec.Text,
				GramProps:                    spec.GramProps,
				PersonNumber:                 spec.PersonNumber,
				AnaphoraPersonNumber:         spec.AnaphoraPersonNumber,
				IsTransposition:              spec.IsTransposition,
				Tense:                        spec.Tense,
				RHSCanProduceSemantic:        spec.RHSCanProduceSemantic,
				SecondRHSCanProduceSemantic:  spec.SecondRHSCanProduceSemantic,
				RHSDoesNotProduceText:        spec.RHSDoesNotProduceText,
				IsPlaceholder:                spec.IsPlaceholder,
				IsTermSequence:               spec.IsTermSequence,
				RHSTermSequenceIndexes:       spec.RHSTermSequenceIndexes,
				RHSNoTextIndexes:             spec.RHSNoTextIndexes,
			}
			rule.MatchRHS = matchRHS(rule.RHS, rule.InsertedSymIdx)
			nextRuleID++
			if rule.InsertedSymIdx == 0 || rule.InsertedSymIdx == 1 {
				other := 1 - rule.InsertedSymIdx
				if int(other) < len(rhsSyms) {
					key := fmt.Sprintf("%d|%s", lhs.ID, rhsSyms[other].Name)
					grp := insertionGroups[key]
					if grp == nil {
						grp = &pendingInsertion{lhs: lhs, nonIns: rhsSyms[other], insIdx: rule.InsertedSymIdx}
						insertionGroups[key] = grp
					}
					grp.rules = append(grp.rules, rule)
					continue // packed below, not added as a standalone rule
				}
			}
			g.Rules = append(g.Rules, rule)
			g.rulesByLHS[lhs.ID] = append(g.rulesByLHS[lhs.ID], rule)
		}
	}
	// Packed insertion rules are still individually addressable via
	// g.Rules (so pfsearch can attribute cost/semantics per choice), but
	// statetable treats same-key groups as one shared action; stash the
	// grouping on the grammar for statetable to consume.
	for _, grp := range insertionGroups {
		for _, r := range grp.rules {
			g.Rules = append(g.Rules, r)
			g.rulesByLHS[grp.lhs.ID] = append(g.rulesByLHS[grp.lhs.ID], r)
		}
	}
	g.insertionGroups = insertionGroups

	g.EntityCategorySymbols = make(map[string]*Symbol, len(doc.EntityCategorySymbols))
	for cat, symName := range doc.EntityCategorySymbols {
		sym, ok := term[symName]
		if !ok {
			return nil, fmt.Errorf("grammar: entity category %q references unknown terminal %q", cat, symName)
		}
		g.EntityCategorySymbols[cat] = sym
	}

	tracer().Debugf("grammar: compiled %d nonterminals, %d terminals, %d rules", len(g.Nonterminals), len(g.Terminals), len(g.Rules))
	return g, nil
}

// pendingInsertion accumulates insertion rules sharing an lhs and
// non-inserted rhs symbol while Compile walks the authored rule specs, before
// they are packed into a PackedRuleProps.
type pendingInsertion struct {
	lhs    *Symbol
	nonIns *Symbol // the non-inserted rhs symbol
	insIdx int8
	rules  []*Rule
}

// insertionGroups records, per (lhs, non-inserted-rhs-symbol), the packed
// list of insertion rules sharing a state-table action. Populated by
// Compile, consumed by package statetable.
type insertionGroupKey = string

func (g *Grammar) insertionGroupsList() map[string]*PackedRuleProps {
	out := make(map[string]*PackedRuleProps, len(g.insertionGroups))
	for k, grp := range g.insertionGroups {
		out[k] = packRules(append([]*Rule(nil), grp.rules...))
	}
	return out
}

// PackedInsertions returns every packed insertion group, keyed by
// "<lhs symbol id>|<non-inserted rhs symbol name>".
func (g *Grammar) PackedInsertions() map[string]*PackedRuleProps {
	return g.insertionGroupsList()
}

func flattenEntitySets(sets map[string][]*entity.Record) []*entity.Record {
	var out []*entity.Record
	seen := make(map[*entity.Record]bool)
	for _, list := range sets {
		for _, r := range list {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}
