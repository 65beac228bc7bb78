/*
Package forest builds a packed parse forest by driving the compiled state
table against the matcher's per-token candidates: a graph-structured stack
(GSS) of (state, position) vertices, whose edges carry shared forest nodes
rather than forking a plain stack for every alternative derivation.

Grounded on lr/glr/glr.go's (github.com/npillmayer/gorgo/lr/glr) shift/reduce
driver loop and its dss-based stack-of-stacks idea, adapted from a forking
multi-stack design into a GSS keyed on (state, position) so that derivations
which reconverge to the same state and position share structure instead of
re-running. Node/family bookkeeping is grounded on lr/sppf/forest.go's
SymbolNode/rhsNode split and searchTree dedup-by-signature idiom
(github.com/npillmayer/gorgo/lr/sppf).
*/
package forest

import (
	"fmt"

	"github.com/npillmayer/schuko/tracing"

	"github.com/kortsch/nlquery"
	"github.com/kortsch/nlquery/grammar"
	"github.com/kortsch/nlquery/matcher"
	"github.com/kortsch/nlquery/statetable"
)

func tracer() tracing.Trace {
	return tracing.Select("nlquery.forest")
}

// Node is a packed-forest symbol node: all derivations of Symbol over Span
// share this one node, recorded as alternative Families.
type Node struct {
	ID       int
	Symbol   *grammar.Symbol
	Span     nlquery.Span
	Lexeme   string // leaf display text: matched token, entity id, or inserted text
	Families []*Family
}

// IsLeaf reports whether n is a terminal/placeholder leaf (no families).
func (n *Node) IsLeaf() bool { return n.Symbol.IsTerminal() }

func (n *Node) String() string {
	return fmt.Sprintf("%s%s", n.Symbol.Name, n.Span)
}

// Family is one AND-node: a specific rule choice together with its
// rhs children, in rule.RHS order (an inserted position's child is a
// synthesized leaf, never a shifted one).
type Family struct {
	Rule     *grammar.Rule
	Children []*Node
	// Cost is this family's own incremental contribution: the rule's base
	// cost plus any deletion costs absorbed while matching its children's
	// span (rule.Cost is NOT included again by callers: Cost already is
	// rule.Cost plus absorbed deletions).
	Cost float64
}

func familySignature(ruleID int, children []*Node) string {
	sig := fmt.Sprintf("%d", ruleID)
	for _, c := range children {
		sig += fmt.Sprintf("|%p", c)
	}
	return sig
}

// Vertex is a GSS node: an LR state paired with a token position.
type Vertex struct {
	State int
	Pos   int
}

type gssEdge struct {
	from, to Vertex
	node     *Node   // nil for a silent deletion hop
	cost     float64 // deletion cost: of the dropped token when node == nil, of bridged filler for an entity shift, else 0
}

// Forest is the packed parse forest plus the GSS used to build it.
type Forest struct {
	Table   *statetable.Table
	Tokens  []nlquery.Token
	Matches []matcher.Match

	nodes    map[string]*Node
	nextID   int
	incoming map[Vertex][]gssEdge

	AcceptVertices []Vertex
	AcceptSymbol   *grammar.Symbol
}

func nodeKey(sym *grammar.Symbol, span nlquery.Span) string {
	return fmt.Sprintf("%d@%d-%d", sym.ID, span.From(), span.To())
}

func (f *Forest) addNode(sym *grammar.Symbol, span nlquery.Span, lexeme string) *Node {
	key := nodeKey(sym, span)
	if n, ok := f.nodes[key]; ok {
		return n
	}
	n := &Node{ID: f.nextID, Symbol: sym, Span: span, Lexeme: lexeme}
	f.nextID++
	f.nodes[key] = n
	return n
}

func (n *Node) addFamily(rule *grammar.Rule, children []*Node, cost float64) {
	sig := familySignature(rule.ID, children)
	for _, fam := range n.Families {
		if familySignature(fam.Rule.ID, fam.Children) == sig {
			return
		}
	}
	n.Families = append(n.Families, &Family{Rule: rule, Children: children, Cost: cost})
}

func (f *Forest) addEdge(from, to Vertex, node *Node, cost float64) {
	for _, e := range f.incoming[to] {
		if e.from == from && e.node == node {
			return
		}
	}
	f.incoming[to] = append(f.incoming[to], gssEdge{from: from, to: to, node: node, cost: cost})
}

// Build drives table against tokens/matches, producing the packed forest
// reachable from the start state. Which tokens may be dropped is decided by
// matches (see matcher.MatchAll); allowFallback, if true, prices a dropped
// token that has a grammar match at the escalated fallback cost
// (matcher.DeletionCost).
func Build(table *statetable.Table, tokens []nlquery.Token, matches []matcher.Match, allowFallback bool) (*Forest, error) {
	f := &Forest{
		Table:        table,
		Tokens:       tokens,
		Matches:      matches,
		nodes:        make(map[string]*Node),
		incoming:     make(map[Vertex][]gssEdge),
		AcceptSymbol: table.Grammar().Start,
	}
	start := Vertex{State: table.Start, Pos: 0}
	visited := make(map[Vertex]bool)
	queue := []Vertex{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if visited[v] {
			continue
		}
		visited[v] = true

		if newVs := f.tryReduce(table, v); len(newVs) > 0 {
			for _, nv := range newVs {
				if !visited[nv] {
					queue = append(queue, nv)
				}
			}
		}
		if v.Pos < len(tokens) {
			for _, nv := range f.tryShift(table, v, allowFallback) {
				if !visited[nv] {
					queue = append(queue, nv)
				}
			}
		}
		if v.Pos == len(tokens) {
			if nv, ok := f.tryShiftBlank(table, v); ok && !visited[nv] {
				queue = append(queue, nv)
			}
			if table.LookupAccept(v.State) {
				f.AcceptVertices = append(f.AcceptVertices, v)
			}
		}
	}
	if len(f.AcceptVertices) == 0 {
		tracer().Debugf("forest: no accept vertex reached over %d tokens (fallback=%v)", len(tokens), allowFallback)
	} else {
		tracer().Debugf("forest: %d accept vertices, %d nodes", len(f.AcceptVertices), len(f.nodes))
	}
	return f, nil
}

// tryShift attempts every terminal/entity/int/deletion candidate at v's
// current token, returning newly discovered vertices.
func (f *Forest) tryShift(table *statetable.Table, v Vertex, allowFallback bool) []Vertex {
	m := f.Matches[v.Pos]
	var out []Vertex

	shiftOn := func(sym *grammar.Symbol, length int, lexeme string, cost float64) {
		a, ok := table.Lookup(v.State, sym)
		if !ok || a.Kind != statetable.Shift {
			return
		}
		span := nlquery.Span{uint32(v.Pos), uint32(v.Pos + length)}
		leaf := f.addNode(sym, span, lexeme)
		nv := Vertex{State: a.Target, Pos: v.Pos + length}
		f.addEdge(v, nv, leaf, cost)
		out = append(out, nv)
	}

	for _, sym := range m.Terminals {
		shiftOn(sym, 1, m.Token.Lexeme, 0)
	}
	for _, sym := range m.IntSyms {
		shiftOn(sym, 1, m.Token.Lexeme, 0)
	}
	for _, es := range m.Entities {
		shiftOn(es.Symbol, es.Length, es.ID, es.Cost)
	}
	if m.Deletable {
		unrecognised := len(m.Terminals) == 0 && len(m.IntSyms) == 0 && len(m.Entities) == 0
		cost := matcher.DeletionCost(table.Grammar(), m.Token.Lexeme, v.Pos, len(f.Tokens), unrecognised, allowFallback)
		nv := Vertex{State: v.State, Pos: v.Pos + 1}
		f.addEdge(v, nv, nil, cost)
		out = append(out, nv)
	}
	return out
}

// tryShiftBlank shifts the grammar's end-anchored Blank symbol once v has
// consumed every token (v.Pos == len(tokens)), letting a rule require
// "nothing more follows" as an explicit terminal rather than relying solely
// on the accept action.
func (f *Forest) tryShiftBlank(table *statetable.Table, v Vertex) (Vertex, bool) {
	blank := table.Grammar().Blank
	if blank == nil {
		return Vertex{}, false
	}
	a, ok := table.Lookup(v.State, blank)
	if !ok || a.Kind != statetable.Shift {
		return Vertex{}, false
	}
	span := nlquery.Span{uint32(v.Pos), uint32(v.Pos)}
	leaf := f.addNode(blank, span, "")
	nv := Vertex{State: a.Target, Pos: v.Pos}
	f.addEdge(v, nv, leaf, 0)
	return nv, true
}

// tryReduce applies v's wildcard reduce action (if any), walking every rhs
// path of the right arity back through the GSS (skipping silent deletion
// edges), and returns newly reached goto vertices.
func (f *Forest) tryReduce(table *statetable.Table, v Vertex) []Vertex {
	a, ok := table.Lookup(v.State, nil)
	if !ok || (a.Kind != statetable.ReduceSingle && a.Kind != statetable.ReducePacked) {
		return nil
	}
	rules := []*grammar.Rule{a.Rule}
	if a.Kind == statetable.ReducePacked {
		rules = a.Packed.Rules
	}
	arity := len(rules[0].MatchRHS)
	if arity == 0 {
		return f.reduceEpsilon(table, v, rules)
	}
	paths := collectPaths(f, v, arity)
	var out []Vertex
	for _, p := range paths {
		origin := p.edges[0].from
		matched := make([]*Node, len(p.edges))
		for i, e := range p.edges {
			matched[i] = e.node
		}
		deletionCost := p.delCost
		span := nlquery.Span{uint32(origin.Pos), uint32(v.Pos)}
		for _, rule := range rules {
			children := assembleChildren(rule, matched)
			nodeSym := rule.LHS
			gotoState, ok := table.Goto[origin.State][nodeSym.ID]
			if !ok {
				continue
			}
			n := f.addNode(nodeSym, span, "")
			n.addFamily(rule, children, rule.Cost+deletionCost)
			nv := Vertex{State: gotoState, Pos: v.Pos}
			f.addEdge(origin, nv, n, 0)
			out = append(out, nv)
		}
	}
	return out
}

// reduceEpsilon handles the degenerate case of a rule whose entire rhs is
// the inserted symbol (MatchRHS empty): it fires at v itself with no
// rhs path to walk.
func (f *Forest) reduceEpsilon(table *statetable.Table, v Vertex, rules []*grammar.Rule) []Vertex {
	var out []Vertex
	span := nlquery.Span{uint32(v.Pos), uint32(v.Pos)}
	for _, rule := range rules {
		gotoState, ok := table.Goto[v.State][rule.LHS.ID]
		if !ok {
			continue
		}
		children := assembleChildren(rule, nil)
		n := f.addNode(rule.LHS, span, "")
		n.addFamily(rule, children, rule.Cost)
		nv := Vertex{State: gotoState, Pos: v.Pos}
		f.addEdge(v, nv, n, 0)
		out = append(out, nv)
	}
	return out
}

// assembleChildren maps matchedChildren (in MatchRHS order) back onto
// rule.RHS order, inserting a synthesized leaf at InsertedSymIdx carrying
// the rule's own Text.
func assembleChildren(rule *grammar.Rule, matchedChildren []*Node) []*Node {
	if rule.InsertedSymIdx < 0 || int(rule.InsertedSymIdx) >= len(rule.RHS) {
		return matchedChildren
	}
	out := make([]*Node, len(rule.RHS))
	mi := 0
	for i, sym := range rule.RHS {
		if i == int(rule.InsertedSymIdx) {
			out[i] = &Node{ID: -1, Symbol: sym, Lexeme: rule.Text.Literal}
			continue
		}
		out[i] = matchedChildren[mi]
		mi++
	}
	return out
}

// path is a sequence of GSS edges from an origin Vertex to v, in traversal
// order (earliest first), each contributing exactly one matched symbol,
// plus the total cost carried by every edge walked, both the deletion edges
// transparently skipped along the way and the matched edges themselves
// (deletion edges are never included in edges).
type path struct {
	edges   []gssEdge
	delCost float64
}

// collectPaths enumerates every path of exactly `arity` symbol-contributing
// edges ending at v, transparently skipping over (and costing) deletion
// edges (nil node) wherever they occur in the chain.
func collectPaths(f *Forest, v Vertex, arity int) []path {
	var results []path
	var walk func(cur Vertex, remaining int, acc []gssEdge, delCost float64)
	walk = func(cur Vertex, remaining int, acc []gssEdge, delCost float64) {
		if remaining == 0 {
			out := make([]gssEdge, len(acc))
			for i, e := range acc {
				out[len(acc)-1-i] = e
			}
			results = append(results, path{edges: out, delCost: delCost})
			return
		}
		for _, e := range f.incoming[cur] {
			if e.node == nil {
				walk(e.from, remaining, acc, delCost+e.cost)
				continue
			}
			walk(e.from, remaining-1, append(acc, e), delCost+e.cost)
		}
	}
	walk(v, arity, nil, 0)
	return results
}

// Root returns the accepted forest node (the whole-query derivation) for
// the given accept Vertex.
func (f *Forest) Root(v Vertex) *Node {
	for _, e := range f.incoming[v] {
		if e.node != nil && e.node.Symbol == f.AcceptSymbol {
			return e.node
		}
	}
	return nil
}
