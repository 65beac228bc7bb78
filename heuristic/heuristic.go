/*
Package heuristic computes admissible cost bounds over a packed parse forest
ahead of best-first search, and flattens pure-text-producing subtrees (term
sequences) into single synthetic leaves so the search does not have to
re-walk them on every path extension.

Grounded on lr/sppf/visit.go's (github.com/npillmayer/gorgo/lr/sppf) Cursor/
pruner idiom for bottom-up forest traversal, generalized here into a
memoised minimum-cost pass rather than a pruning visitor. The forest is a
DAG, so memoisation on node identity (not a plain recursive walk) is
required to keep this linear in forest size.
*/
package heuristic

import "github.com/kortsch/nlquery/forest"

// MinCosts maps every forest node reachable from a root to the minimum
// admissible cost of any derivation rooted there (the cheapest family,
// recursively).
type MinCosts map[*forest.Node]float64

// Annotate computes MinCosts for every node reachable from root.
func Annotate(root *forest.Node) MinCosts {
	m := make(MinCosts)
	var visit func(n *forest.Node) float64
	visit = func(n *forest.Node) float64 {
		if c, ok := m[n]; ok {
			return c
		}
		if len(n.Families) == 0 {
			m[n] = 0
			return 0
		}
		// Seed with +Inf while descending so a node that (incorrectly)
		// cycles back to itself does not recurse forever; packed forests
		// built over a linear token sequence are acyclic in practice.
		m[n] = posInf
		best := posInf
		for _, fam := range n.Families {
			c := fam.Cost
			for _, child := range fam.Children {
				c += visit(child)
			}
			if c < best {
				best = c
			}
		}
		m[n] = best
		return best
	}
	visit(root)
	return m
}

const posInf = 1e18

// Get returns the minimum cost of n, or 0 if n was never annotated (a leaf
// outside the memoised set is cost-free by definition).
func (m MinCosts) Get(n *forest.Node) float64 {
	if c, ok := m[n]; ok {
		return c
	}
	return 0
}

// FlatText is a term sequence collapsed into one synthetic leaf: its
// concatenated surface text and the accumulated cost of producing it.
type FlatText struct {
	Text string
	Cost float64
	// Tense is the first non-empty tense carried by the flattened rule
	// itself or any of its merged children, honouring an ancestor rule's
	// AcceptedTense the same way a normal (non-flattened) derivation would.
	Tense string
	// IsFlat reports whether this node was actually collapsed by a
	// IsTermSequence rule; false means Text/Cost are just n's own Lexeme/
	// MinCosts value, not a merged flattening, and callers must not treat
	// it as a term-sequence substitute.
	IsFlat bool
}

// Flatten walks the forest rooted at root, merging every subtree whose
// cheapest family belongs to a rule flagged IsTermSequence into a single
// FlatText, keyed by node. Flattening only ever follows the cheapest
// family (the one MinCosts picked) since search will only ever want the
// merged text of the winning derivation through a pure-text subtree.
func Flatten(root *forest.Node, costs MinCosts) map[*forest.Node]FlatText {
	out := make(map[*forest.Node]FlatText)
	var visit func(n *forest.Node) FlatText
	visit = func(n *forest.Node) FlatText {
		if ft, ok := out[n]; ok {
			return ft
		}
		if len(n.Families) == 0 {
			ft := FlatText{Text: n.Lexeme, Cost: 0}
			out[n] = ft
			return ft
		}
		fam := CheapestFamily(n, costs)
		if fam == nil || fam.Rule == nil || !fam.Rule.IsTermSequence {
			// Not a pure-text node: still record something usable for
			// callers that blindly flatten a whole tree, but do not
			// pretend its children were merged.
			ft := FlatText{Text: n.Lexeme, Cost: costs.Get(n)}
			out[n] = ft
			// Term sequences can sit anywhere below a non-term-sequence
			// node, under any of its families.
			for _, f := range n.Families {
				for _, c := range f.Children {
					visit(c)
				}
			}
			return ft
		}
		text := ""
		total := fam.Cost
		tense := fam.Rule.Tense
		indexes := fam.Rule.RHSTermSequenceIndexes
		if len(indexes) == 0 {
			for i := range fam.Children {
				indexes = append(indexes, i)
			}
		}
		for _, idx := range indexes {
			if idx < 0 || idx >= len(fam.Children) {
				continue
			}
			child := visit(fam.Children[idx])
			if text != "" && child.Text != "" {
				text += " "
			}
			text += child.Text
			total += child.Cost
			if tense == "" && child.Tense != "" {
				tense = child.Tense
			}
		}
		ft := FlatText{Text: text, Cost: total, Tense: tense, IsFlat: true}
		out[n] = ft
		return ft
	}
	visit(root)
	return out
}

// CheapestFamily returns n's minimum-cost family according to costs (the
// same family MinCosts/Annotate picked), or nil for a leaf.
func CheapestFamily(n *forest.Node, costs MinCosts) *forest.Family {
	var best *forest.Family
	bestCost := posInf
	for _, fam := range n.Families {
		c := fam.Cost
		for _, child := range fam.Children {
			c += costs.Get(child)
		}
		if c < bestCost {
			bestCost = c
			best = fam
		}
	}
	return best
}
