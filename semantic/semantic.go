/*
Package semantic implements the semantic algebra that backs a parse tree's
meaning: functions applied to argument arrays, normalised and interned so
that equality of two semantic trees collapses to a pointer comparison.

Grounded on terex.GCons/Atom (github.com/npillmayer/gorgo/terex), which
represents s-expression-like applications of operators to argument lists and
already implements list equality, matching and construction helpers this
package's Node/Array play the same role for. structhash
(github.com/cnf/structhash) is used for the hash-consing keys, the same way
lr/earley/earley.go uses it for Earley backlink keys.
*/
package semantic

import (
	"errors"
	"fmt"

	"github.com/cnf/structhash"
	"golang.org/x/exp/slices"
)

// Function describes a semantic operator: its name, base cost, accepted
// arity range and an optional predicate further constraining children.
type Function struct {
	Name     string
	Cost     float64
	MinArity int
	MaxArity int // 0 means unbounded
	// Unique, if true, makes MergeRHS reject an array in which applications
	// of this function (one or several siblings) carry the same argument
	// leaf twice. Reduce itself does not check it.
	Unique bool
	// Negates, if non-empty, names a function whose application is
	// considered to logically contradict this one when both would become
	// siblings under the same parent.
	Negates string
	// Requires, if set, is evaluated against every child Node; a false
	// result makes reduce fail as ill-formed.
	Requires func(*Node) bool
}

// Node is a semantic tree node: either a function application over Children,
// or an argument leaf carrying Arg (an entity id string, an integer, or any
// other comparable payload produced by the matcher).
type Node struct {
	Fn       *Function
	Children Array
	Arg      interface{}
	Reduced  bool // marks a reduced RHS array vs. a pending LHS frame
}

// IsLeaf reports whether n is an argument leaf rather than a function
// application.
func (n *Node) IsLeaf() bool { return n.Fn == nil }

func (n *Node) String() string {
	if n == nil {
		return "nil"
	}
	if n.IsLeaf() {
		return fmt.Sprintf("%v", n.Arg)
	}
	return fmt.Sprintf("%s(%s)", n.Fn.Name, n.Children.String())
}

// Array is an ordered list of semantic nodes: the children of a function
// application, or a top-level fragment under construction. Invariant: once
// sortArray has run on it (Reduce, MergeRHS and the Interner all do so), an
// Array is sorted and, after interning, every
// structurally-equal array is the same slice header (see Interner).
type Array []*Node

func (a Array) String() string {
	s := ""
	for i, n := range a {
		if i > 0 {
			s += ", "
		}
		s += n.String()
	}
	return s
}

// Leaf constructs an argument leaf node.
func Leaf(arg interface{}) *Node { return &Node{Arg: arg} }

// ErrIllFormed is returned by Reduce when arity or a required-child
// predicate is violated.
var ErrIllFormed = errors.New("semantic: ill-formed application")

// ErrConflict is the sentinel error returned by MergeRHS when merging two
// semantic arrays produces an
// illegal combination. Callers must treat ErrConflict as "this derivation
// is dead", discarding the enclosing parse path, not as an unexpected
// failure.
var ErrConflict = errors.New("semantic: conflicting arguments")

// Reduce produces an application node fn(children...), failing with
// ErrIllFormed when fn's arity or required-child predicates are violated.
func Reduce(fn *Function, children Array) (*Node, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil function", ErrIllFormed)
	}
	if len(children) < fn.MinArity || (fn.MaxArity > 0 && len(children) > fn.MaxArity) {
		return nil, fmt.Errorf("%w: %s wants [%d,%d] args, got %d",
			ErrIllFormed, fn.Name, fn.MinArity, fn.MaxArity, len(children))
	}
	if fn.Requires != nil {
		for _, c := range children {
			if !fn.Requires(c) {
				return nil, fmt.Errorf("%w: %s rejects child %s", ErrIllFormed, fn.Name, c)
			}
		}
	}
	sorted := append(Array(nil), children...)
	sortArray(sorted)
	return &Node{Fn: fn, Children: sorted, Reduced: true}, nil
}

// InsertSemantic attaches a reduced rhs array as the children of a lhs
// function, producing a reduced semantic node.
func InsertSemantic(lhs *Function, rhs Array) (*Node, error) {
	return Reduce(lhs, rhs)
}

// MergeRHS concatenates and re-sorts two semantic arrays, returning
// ErrConflict when the result is illegal: a function marked Unique
// receiving the same argument leaf twice, a not(X) application present
// alongside a sibling equal to X, or a pair (f, g) present as siblings
// where g.Negates == f (or vice-versa) and both apply to structurally
// equal children.
func MergeRHS(a, b Array) (Array, error) {
	merged := make(Array, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sortArray(merged)
	if conflict := findConflict(merged); conflict {
		return nil, ErrConflict
	}
	return merged, nil
}

func findConflict(arr Array) bool {
	// Unique-argument duplication: two leaves under the same function name.
	seenLeafArg := make(map[string]map[interface{}]bool)
	for _, n := range arr {
		if n.IsLeaf() {
			continue
		}
		if n.Fn.Unique {
			for _, c := range n.Children {
				if !c.IsLeaf() {
					continue
				}
				if seenLeafArg[n.Fn.Name] == nil {
					seenLeafArg[n.Fn.Name] = make(map[interface{}]bool)
				}
				if seenLeafArg[n.Fn.Name][c.Arg] {
					return true
				}
				seenLeafArg[n.Fn.Name][c.Arg] = true
			}
		}
	}
	// not(X) alongside X as siblings.
	for _, n := range arr {
		if n.IsLeaf() || n.Fn.Name != "not" || len(n.Children) != 1 {
			continue
		}
		for _, m := range arr {
			if m != n && NodesEqual(n.Children[0], m) {
				return true
			}
		}
	}
	// f(X) alongside g(X) as siblings, where g.Negates names f.
	for i, n := range arr {
		if n.IsLeaf() || n.Fn.Negates == "" {
			continue
		}
		for j, m := range arr {
			if i == j || m.IsLeaf() {
				continue
			}
			if m.Fn.Name == n.Fn.Negates && ArraysEqual(n.Children, m.Children) {
				return true
			}
		}
	}
	return false
}

// NodesEqual reports structural equality of two semantic trees.
func NodesEqual(a, b *Node) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.IsLeaf() != b.IsLeaf() {
		return false
	}
	if a.IsLeaf() {
		return a.Arg == b.Arg
	}
	if a.Fn != b.Fn && (a.Fn == nil || b.Fn == nil || a.Fn.Name != b.Fn.Name) {
		return false
	}
	return ArraysEqual(a.Children, b.Children)
}

// ArraysEqual reports structural equality of two semantic arrays.
func ArraysEqual(a, b Array) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !NodesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// sortArray sorts in place by (function name, then recursively by children),
// so that two structurally-equal arrays sort identically.
func sortArray(a Array) {
	slices.SortFunc(a, func(i, j *Node) bool { return compareNodes(i, j) < 0 })
}

func compareNodes(a, b *Node) int {
	if a.IsLeaf() != b.IsLeaf() {
		if a.IsLeaf() {
			return -1
		}
		return 1
	}
	if a.IsLeaf() {
		return compareArgs(a.Arg, b.Arg)
	}
	if a.Fn.Name != b.Fn.Name {
		if a.Fn.Name < b.Fn.Name {
			return -1
		}
		return 1
	}
	return compareArrays(a.Children, b.Children)
}

func compareArrays(a, b Array) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareNodes(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareArgs(a, b interface{}) int {
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	if as == bs {
		return 0
	}
	if as < bs {
		return -1
	}
	return 1
}

// --- Interning --------------------------------------------------------

// Interner is a hash-consing table: identical nodes map to one *Node,
// identical arrays to one Array. Functions are not interned; nodes are
// keyed by function name, not by *Function identity.
// A grammar interns once at load time so later equality checks during
// search become pointer comparisons.
type Interner struct {
	nodes  map[string]*Node
	arrays map[string]string // array signature -> canonical node-list signature (dedup key)
	byArr  map[string]Array
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{
		nodes:  make(map[string]*Node),
		byArr:  make(map[string]Array),
		arrays: make(map[string]string),
	}
}

// InternNode returns the canonical *Node for n's structure, interning n if
// this is the first time this structure has been seen.
func (in *Interner) InternNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	if !n.IsLeaf() {
		children := make(Array, len(n.Children))
		for i, c := range n.Children {
			children[i] = in.InternNode(c)
		}
		sortArray(children)
		n = &Node{Fn: n.Fn, Children: children, Reduced: n.Reduced}
	}
	key := nodeHash(n)
	if canon, ok := in.nodes[key]; ok {
		return canon
	}
	in.nodes[key] = n
	return n
}

// InternArray returns the canonical Array for arr's structure.
func (in *Interner) InternArray(arr Array) Array {
	sorted := append(Array(nil), arr...)
	for i, n := range sorted {
		sorted[i] = in.InternNode(n)
	}
	sortArray(sorted)
	key := arrayHash(sorted)
	if canon, ok := in.byArr[key]; ok {
		return canon
	}
	in.byArr[key] = sorted
	return sorted
}

func nodeHash(n *Node) string {
	if n.IsLeaf() {
		h, err := structhash.Hash(struct {
			Leaf bool
			Arg  interface{}
		}{true, n.Arg}, 1)
		if err != nil {
			panic(err)
		}
		return h
	}
	childHashes := make([]string, len(n.Children))
	for i, c := range n.Children {
		childHashes[i] = nodeHash(c)
	}
	h, err := structhash.Hash(struct {
		Name     string
		Children []string
	}{n.Fn.Name, childHashes}, 1)
	if err != nil {
		panic(err)
	}
	return h
}

func arrayHash(a Array) string {
	hashes := make([]string, len(a))
	for i, n := range a {
		hashes[i] = nodeHash(n)
	}
	h, err := structhash.Hash(hashes, 1)
	if err != nil {
		panic(err)
	}
	return h
}
