/*
Package pfsearch enumerates the k cheapest derivations of a packed parse
forest, resolving each winning path's semantics and surface text along the
way.

The forest already holds every legal derivation as packed families; this
package's job is choosing, for each ambiguous symbol node, which family (and
recursively, which of its children's derivations) belongs to the cheapest
overall reading, stopping once k results have been produced. Grounded in
lr/sppf/visit.go's (github.com/npillmayer/gorgo/lr/sppf) Cursor/pruner
traversal idiom, generalized from a single predicate-pruned walk into a
priority-queue-driven path expansion. The queue is a small binary heap
implementing container/heap.Interface (stdlib): gods ships no
priority-queue container, and the ordering here (cost only; equal-cost
entries are not kept in discovery order) does not need a generic
priority-queue library's extra surface. This is the one deliberate stdlib choice in this module,
everywhere else reaching for a pack dependency first.
*/
package pfsearch

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/npillmayer/schuko/tracing"
	"golang.org/x/exp/slices"

	"github.com/kortsch/nlquery/forest"
	"github.com/kortsch/nlquery/grammar"
	"github.com/kortsch/nlquery/heuristic"
	"github.com/kortsch/nlquery/semantic"
)

func tracer() tracing.Trace {
	return tracing.Select("nlquery.pfsearch")
}

// Derivation is one fully resolved reading of a forest node: the rule chosen
// at this node (nil for a leaf), its accumulated cost, resolved semantic
// fragment and surface text, plus enough grammatical context for an
// ancestor rule to request a different conjugated form of this subtree.
type Derivation struct {
	Node         *forest.Node
	Rule         *grammar.Rule // nil for a leaf: no reduction happened here
	Cost         float64
	Semantic     semantic.Array
	Text         string
	ConjText     map[string]string // this derivation's own Text.Conj table
	Tense        string
	PersonNumber string
	Anaphora     string // AnaphoraPersonNumber bound by Rule, if any
	Children     []*Derivation
	// Ambiguous counts additional derivations discarded at Search time
	// because they produced an identical (Text, Semantic) reading.
	Ambiguous int
}

func (d *Derivation) String() string {
	if d == nil {
		return "nil"
	}
	return fmt.Sprintf("%.2f:%q", d.Cost, d.Text)
}

// Result is one of the k best parses returned by Search.
type Result struct {
	Cost      float64
	Text      string
	Semantic  semantic.Array
	Tree      *Derivation
	Ambiguous int
}

// Search returns up to k cheapest derivations reachable from f's accept
// vertices, cheapest first. An empty, nil-error result means the forest
// carries no accept vertex or every derivation was semantically ill-formed:
// "no legal trees", an expected outcome for package parser to report via a
// result flag, not a Go error. A non-nil error means the search itself
// could not proceed (a malformed grammar/forest pairing).
func Search(f *forest.Forest, costs heuristic.MinCosts, g *grammar.Grammar, k int) ([]*Result, error) {
	if k <= 0 {
		k = 1
	}
	roots := distinctRoots(f)
	if len(roots) == 0 {
		tracer().Debugf("pfsearch: no distinct roots to search")
		return nil, nil
	}

	s := &searcher{
		g:     g,
		costs: costs,
		k:     k,
		memo:  make(map[*forest.Node][]*Derivation),
		flats: make(map[*forest.Node]heuristic.FlatText),
	}
	for _, r := range roots {
		for n, ft := range heuristic.Flatten(r, costs) {
			s.flats[n] = ft
		}
	}
	var all []*Derivation
	for _, r := range roots {
		ds, err := s.kbest(r)
		if err != nil {
			return nil, err
		}
		all = append(all, ds...)
	}
	if len(all) == 0 {
		return nil, nil
	}
	slices.SortFunc(all, func(a, b *Derivation) bool { return a.Cost < b.Cost })
	all = dedupe(all)
	if len(all) > k {
		all = all[:k]
	}
	out := make([]*Result, len(all))
	for i, d := range all {
		out[i] = &Result{Cost: d.Cost, Text: d.Text, Semantic: d.Semantic, Tree: d, Ambiguous: d.Ambiguous}
	}
	tracer().Debugf("pfsearch: returning %d of %d distinct derivations, cheapest cost %v", len(out), len(all), out[0].Cost)
	return out, nil
}

func distinctRoots(f *forest.Forest) []*forest.Node {
	seen := make(map[*forest.Node]bool)
	var roots []*forest.Node
	for _, v := range f.AcceptVertices {
		r := f.Root(v)
		if r != nil && !seen[r] {
			seen[r] = true
			roots = append(roots, r)
		}
	}
	return roots
}

// dedupe collapses derivations producing an identical (Text, Semantic)
// reading, keeping the cheapest (all is already cost-sorted ascending) and
// recording how many alternatives collapsed into it.
func dedupe(all []*Derivation) []*Derivation {
	var out []*Derivation
	for _, d := range all {
		merged := false
		for _, o := range out {
			if o.Text == d.Text && semantic.ArraysEqual(o.Semantic, d.Semantic) {
				o.Ambiguous++
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, d)
		}
	}
	return out
}

type searcher struct {
	g     *grammar.Grammar
	costs heuristic.MinCosts
	k     int
	memo  map[*forest.Node][]*Derivation
	// flats holds the term-sequence flattening of every root searched so
	// far (heuristic.Flatten), keyed by node; only entries with IsFlat true
	// replace a node's normal per-family k-best expansion.
	flats map[*forest.Node]heuristic.FlatText
}

// kbest returns up to s.k cheapest derivations of node, memoised by node
// identity since the forest is a DAG (shared subtrees must not be
// recomputed, or re-expanded with diverging results, on every visit). A
// node flattened by heuristic.Flatten (a pure-text IsTermSequence subtree)
// short-circuits to its single merged derivation instead of enumerating
// per-family combinations, since a term sequence has no interesting
// alternate reading beyond the cheapest one Flatten already picked.
func (s *searcher) kbest(node *forest.Node) ([]*Derivation, error) {
	if ds, ok := s.memo[node]; ok {
		return ds, nil
	}
	if len(node.Families) == 0 {
		leaf := &Derivation{
			Node:     node,
			Text:     node.Lexeme,
			Semantic: semantic.Array{semantic.Leaf(node.Lexeme)},
		}
		s.memo[node] = []*Derivation{leaf}
		return s.memo[node], nil
	}
	if flat, ok := s.flats[node]; ok && flat.IsFlat {
		d, err := s.assembleFlat(node, flat)
		if err != nil {
			if err == semantic.ErrConflict || err == semantic.ErrIllFormed {
				s.memo[node] = nil
				return nil, nil
			}
			return nil, err
		}
		s.memo[node] = []*Derivation{d}
		return s.memo[node], nil
	}

	var all []*Derivation
	for _, fam := range node.Families {
		ds, err := s.kbestFamily(node, fam)
		if err != nil {
			return nil, err
		}
		all = append(all, ds...)
	}
	slices.SortFunc(all, func(a, b *Derivation) bool { return a.Cost < b.Cost })
	if len(all) > s.k {
		all = all[:s.k]
	}
	s.memo[node] = all
	return all, nil
}

// kbestFamily enumerates up to s.k cheapest children-index combinations for
// one family, via the classic heap-frontier expansion: start at the all-zero
// index vector, repeatedly pop the cheapest frontier entry, try to assemble
// it into a derivation (skipping ones semantic.MergeRHS rejects as
// ill-formed), and push its unvisited neighbours (each index advanced by
// one, one dimension at a time).
func (s *searcher) kbestFamily(node *forest.Node, fam *forest.Family) ([]*Derivation, error) {
	childLists := make([][]*Derivation, len(fam.Children))
	for i, c := range fam.Children {
		ds, err := s.kbest(c)
		if err != nil {
			return nil, err
		}
		if len(ds) == 0 {
			return nil, nil // this child has no legal derivation at all
		}
		childLists[i] = ds
	}

	costOf := func(idx []int) float64 {
		c := fam.Cost
		for i, j := range idx {
			c += childLists[i][j].Cost
		}
		return c
	}

	start := make([]int, len(childLists))
	h := &frontier{{idx: start, cost: costOf(start)}}
	heap.Init(h)
	visited := map[string]bool{indexKey(start): true}

	var results []*Derivation
	for h.Len() > 0 && len(results) < s.k {
		cur := heap.Pop(h).(*candidate)
		children := make([]*Derivation, len(childLists))
		for i, j := range cur.idx {
			children[i] = childLists[i][j]
		}
		deriv, err := s.assemble(node, fam.Rule, fam.Cost, children)
		if err != nil && err != semantic.ErrConflict && err != semantic.ErrIllFormed {
			return nil, err
		}
		if err == nil {
			results = append(results, deriv)
		}
		for i := range cur.idx {
			next := append([]int(nil), cur.idx...)
			next[i]++
			if next[i] >= len(childLists[i]) {
				continue
			}
			key := indexKey(next)
			if visited[key] {
				continue
			}
			visited[key] = true
			heap.Push(h, &candidate{idx: next, cost: costOf(next)})
		}
	}
	return results, nil
}

func indexKey(idx []int) string {
	var sb strings.Builder
	for _, i := range idx {
		fmt.Fprintf(&sb, "%d,", i)
	}
	return sb.String()
}

// assemble builds one Derivation from a chosen rule and its already-resolved
// children, merging semantics and resolving conjugated text. A
// semantic.ErrConflict/ErrIllFormed from the underlying algebra means this
// particular combination of children is not a legal reading; the caller
// discards it and keeps searching rather than failing the whole node.
func (s *searcher) assemble(node *forest.Node, rule *grammar.Rule, famCost float64, children []*Derivation) (*Derivation, error) {
	frag, err := combineSemantics(rule, children)
	if err != nil {
		return nil, err
	}
	if len(frag) > 0 && s.g != nil && s.g.Interner != nil {
		frag = s.g.Interner.InternArray(frag)
	}

	cost := famCost
	for _, c := range children {
		cost += c.Cost
	}

	tense := rule.Tense
	personNumber := rule.PersonNumber
	for _, c := range children {
		if tense == "" && c.Tense != "" {
			tense = c.Tense
		}
		if personNumber == "" && c.PersonNumber != "" {
			personNumber = c.PersonNumber
		}
	}

	return &Derivation{
		Node:         node,
		Rule:         rule,
		Cost:         cost,
		Semantic:     frag,
		Text:         resolveText(rule, children),
		ConjText:     rule.Text.Conj,
		Tense:        tense,
		PersonNumber: personNumber,
		Anaphora:     rule.AnaphoraPersonNumber,
		Children:     children,
	}, nil
}

// assembleFlat builds the single derivation for a node heuristic.Flatten
// collapsed: text and cost come straight from flat (already merged across
// the cheapest family's term-sequence children), while semantics still
// combine normally over that same family's cheapest children, so a
// flattened subtree's semantic fragment is unaffected by the text
// shortcut.
func (s *searcher) assembleFlat(node *forest.Node, flat heuristic.FlatText) (*Derivation, error) {
	fam := heuristic.CheapestFamily(node, s.costs)
	if fam == nil {
		return &Derivation{Node: node, Text: flat.Text, Cost: flat.Cost, Tense: flat.Tense}, nil
	}
	children := make([]*Derivation, len(fam.Children))
	for i, c := range fam.Children {
		ds, err := s.kbest(c)
		if err != nil {
			return nil, err
		}
		if len(ds) == 0 {
			return nil, semantic.ErrIllFormed
		}
		children[i] = ds[0]
	}
	frag, err := combineSemantics(fam.Rule, children)
	if err != nil {
		return nil, err
	}
	if len(frag) > 0 && s.g != nil && s.g.Interner != nil {
		frag = s.g.Interner.InternArray(frag)
	}
	return &Derivation{
		Node:         node,
		Rule:         fam.Rule,
		Cost:         flat.Cost,
		Semantic:     frag,
		Text:         flat.Text,
		ConjText:     fam.Rule.Text.Conj,
		Tense:        flat.Tense,
		PersonNumber: fam.Rule.PersonNumber,
		Anaphora:     fam.Rule.AnaphoraPersonNumber,
		Children:     children,
	}, nil
}

// combineSemantics merges the semantic contributions of rule's children
// (only those rule flags as semantic-producing) with the rule's own
// attached fragment and any inserted-symbol semantic, in that order.
func combineSemantics(rule *grammar.Rule, children []*Derivation) (semantic.Array, error) {
	var frag semantic.Array
	var err error
	for i, child := range children {
		produces := (i == 0 && rule.RHSCanProduceSemantic) || (i == 1 && rule.SecondRHSCanProduceSemantic)
		if !produces || len(child.Semantic) == 0 {
			continue
		}
		frag, err = semantic.MergeRHS(frag, child.Semantic)
		if err != nil {
			return nil, err
		}
	}
	if rule.InsertedSemantic != nil {
		frag, err = semantic.MergeRHS(frag, semantic.Array{rule.InsertedSemantic})
		if err != nil {
			return nil, err
		}
	}
	if len(rule.Semantic) > 0 {
		frag, err = semantic.MergeRHS(frag, rule.Semantic)
		if err != nil {
			return nil, err
		}
	}
	return frag, nil
}

// resolveText assembles rule's surface text from its children's resolved
// text, honouring transposition, no-text exclusions and per-child
// conjugation requests (GramProps), then folding in the rule's own
// contribution (an inserted word's surface form, e.g.) around it. An
// inserted rhs position is excluded from the children walk: its text comes
// from resolveInsertedText instead, which is the one and only path that
// emits it, since the synthesized child forest.assembleChildren produces
// for that position already carries rule.Text.Literal as its own Lexeme.
func resolveText(rule *grammar.Rule, children []*Derivation) string {
	if rule.RHSDoesNotProduceText {
		return rule.Text.Literal
	}
	order := make([]int, len(rule.RHS))
	for i := range order {
		order[i] = i
	}
	if rule.IsTransposition && len(order) == 2 {
		order[0], order[1] = order[1], order[0]
	}
	noText := make(map[int]bool, len(rule.RHSNoTextIndexes))
	for _, i := range rule.RHSNoTextIndexes {
		noText[i] = true
	}
	insertedIdx := -1
	if rule.InsertedSymIdx >= 0 && int(rule.InsertedSymIdx) < len(rule.RHS) {
		insertedIdx = int(rule.InsertedSymIdx)
	}

	var parts []string
	for _, i := range order {
		if i == insertedIdx || noText[i] || i >= len(children) {
			continue
		}
		child := children[i]
		text := child.Text
		if i < len(rule.GramProps) && rule.GramProps[i] != nil {
			gp := rule.GramProps[i]
			tense := child.Tense
			if gp.AcceptedTense != "" && tense != gp.AcceptedTense {
				tense = ""
			}
			key := grammar.ConjKey(gp.Form, tense, child.PersonNumber)
			if conj, ok := child.ConjText[key]; ok {
				text = conj
			}
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	joined := strings.Join(parts, " ")
	literal := rule.Text.Literal
	if insertedIdx >= 0 {
		literal = resolveInsertedText(rule, children)
	}
	if literal == "" {
		return joined
	}
	if joined == "" {
		return literal
	}
	return literal + " " + joined
}

// resolveInsertedText resolves the surface text of rule's inserted rhs
// position straight from rule.Text, honouring its Conj table against the
// rule's own tense/person-number (falling back to whichever child carries
// one) rather than the synthesized child's plain literal Lexeme.
func resolveInsertedText(rule *grammar.Rule, children []*Derivation) string {
	if rule.Text.Conj == nil {
		return rule.Text.Literal
	}
	tense := rule.Tense
	personNumber := rule.PersonNumber
	for _, c := range children {
		if tense == "" && c.Tense != "" {
			tense = c.Tense
		}
		if personNumber == "" && c.PersonNumber != "" {
			personNumber = c.PersonNumber
		}
	}
	if conj, ok := rule.Text.Conj[grammar.ConjKey("", tense, personNumber)]; ok {
		return conj
	}
	return rule.Text.Literal
}

// candidate is one entry of a family's combination frontier: an index
// vector into each child's kbest list, and the total cost it would produce.
type candidate struct {
	idx  []int
	cost float64
}

// frontier is a container/heap.Interface min-heap of candidates, ordered by
// cost ascending. Less compares cost only, and container/heap is not
// stable: equal-cost candidates come out in an order fixed by the heap's
// layout for a given push sequence, not in insertion order.
type frontier []*candidate

func (f frontier) Len() int            { return len(f) }
func (f frontier) Less(i, j int) bool  { return f[i].cost < f[j].cost }
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(*candidate)) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}
