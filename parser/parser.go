/*
Package parser wires tokenizing, forest construction, the cost pre-pass and
best-first search into one entry point, and owns the fallback-reparse
decision: when no token sequence reaches an accept state, or an accept
state is reached but every candidate derivation is semantically ill-formed,
the query is reparsed once more with every remaining token (matched or not)
treated as forcibly deletable at an escalated cost, rather than failing
outright.

Grounded on lr/earley/earley.go's (github.com/npillmayer/gorgo/lr/earley)
Parser/Option construction idiom: a compiled table built once at New, a
functional-options config, and a Parse method returning a result struct with
outcome flags rather than a sentinel error for expected no-parse outcomes.
*/
package parser

import (
	"github.com/npillmayer/schuko/tracing"

	"github.com/kortsch/nlquery"
	"github.com/kortsch/nlquery/forest"
	"github.com/kortsch/nlquery/grammar"
	"github.com/kortsch/nlquery/heuristic"
	"github.com/kortsch/nlquery/matcher"
	"github.com/kortsch/nlquery/pfsearch"
	"github.com/kortsch/nlquery/statetable"
)

func tracer() tracing.Trace {
	return tracing.Select("nlquery.parser")
}

type config struct {
	maxPaths  int
	fallback  bool
	treeGraph bool
}

// Option configures a Parser at construction time.
type Option func(*config)

// WithMaxPaths bounds how many best derivations Parse returns (default 5).
func WithMaxPaths(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPaths = n
		}
	}
}

// WithFallback enables or disables the escalated-deletion reparse attempted
// when the first pass reaches no accept state or yields no legal tree
// (default: enabled).
func WithFallback(enabled bool) Option {
	return func(c *config) { c.fallback = enabled }
}

// WithTreeGraph requests that ParseResult.Tree be populated with the
// winning derivation's forest node (default: not populated, since most
// callers only want Results[0].Text/Semantic).
func WithTreeGraph(enabled bool) Option {
	return func(c *config) { c.treeGraph = enabled }
}

// Parser compiles a grammar once and answers Parse calls against it.
type Parser struct {
	g     *grammar.Grammar
	table *statetable.Table
	cfg   config
}

// New compiles g into a state table and returns a ready Parser.
func New(g *grammar.Grammar, opts ...Option) (*Parser, error) {
	table, err := statetable.Compile(g)
	if err != nil {
		return nil, err
	}
	cfg := config{maxPaths: 5, fallback: true}
	for _, o := range opts {
		o(&cfg)
	}
	return &Parser{g: g, table: table, cfg: cfg}, nil
}

// ParseResult reports the outcome of parsing one query. A failed parse is
// never a Go error: "no token sequence reached the start symbol" and "a
// start symbol was reached but every candidate derivation was semantically
// ill-formed" are both expected, user-triggerable outcomes, reported as
// flags rather than raised as errors.
type ParseResult struct {
	Query   string
	Results []*pfsearch.Result

	// ReachedNoStartSymbol is true when no token sequence (with or without
	// the fallback reparse) drove the state table to an accept state.
	ReachedNoStartSymbol bool
	// NoLegalTrees is true when an accept state was reached but every
	// candidate derivation's semantics were rejected as ill-formed or
	// conflicting.
	NoLegalTrees bool
	// UsedFallback is true when the result required the escalated-deletion
	// reparse (the first pass reached no accept state or yielded no legal
	// tree).
	UsedFallback bool

	// Tree is the winning derivation's forest node, populated only when the
	// Parser was built WithTreeGraph(true).
	Tree *forest.Node
}

// Best returns the cheapest result, or nil if Parse found none.
func (r *ParseResult) Best() *pfsearch.Result {
	if len(r.Results) == 0 {
		return nil
	}
	return r.Results[0]
}

// failureKind names which of the two expected no-parse outcomes an attempt
// hit, if any.
type failureKind int

const (
	noFailure failureKind = iota
	noStartSymbol
	noLegalTrees
)

func (k failureKind) String() string {
	switch k {
	case noStartSymbol:
		return "no accept state reached"
	case noLegalTrees:
		return "an accept state was reached but no legal tree survived"
	}
	return "no failure"
}

// Parse tokenizes query, builds its packed forest, and returns up to
// maxPaths best derivations. Both expected failure outcomes (no accept
// state reached, or an accept state reached but every candidate derivation
// semantically ill-formed) trigger the same escalated-cost fallback
// reparse when one is enabled; only a fallback attempt that also fails
// reports the outcome as final.
func (p *Parser) Parse(query string) (*ParseResult, error) {
	toks, err := matcher.Tokenize(query)
	if err != nil {
		return nil, err
	}
	res := &ParseResult{Query: query}

	results, failed, err := p.attempt(toks, false)
	if err != nil {
		return nil, err
	}
	usedFallback := false
	switch {
	case failed == noFailure:
		// first pass succeeded, nothing more to do
	case !p.cfg.fallback:
		tracer().Debugf("parser: %s for %q, fallback disabled", failed, query)
	default:
		tracer().Infof("parser: %s for %q, attempting escalated-cost fallback reparse", failed, query)
		fbResults, fbFailed, err := p.attempt(toks, true)
		if err != nil {
			return nil, err
		}
		if fbFailed == noFailure {
			results, failed, usedFallback = fbResults, noFailure, true
		} else {
			tracer().Errorf("parser: fallback reparse still failed (%s) for %q", fbFailed, query)
			failed = fbFailed
		}
	}

	switch failed {
	case noStartSymbol:
		res.ReachedNoStartSymbol = true
		return res, nil
	case noLegalTrees:
		res.NoLegalTrees = true
		return res, nil
	}
	res.Results = results
	res.UsedFallback = usedFallback
	if p.cfg.treeGraph {
		res.Tree = results[0].Tree.Node
	}
	return res, nil
}

// attempt builds the forest and searches it once at a given fallback level
// (MatchAll's Deletable flag depends on allowFallback, so matches must be
// recomputed at each level, not reused), reporting which expected failure
// outcome it hit, if any.
func (p *Parser) attempt(toks []nlquery.Token, fallback bool) ([]*pfsearch.Result, failureKind, error) {
	matches := matcher.MatchAll(p.g, toks, p.g.EntityCategorySymbols, fallback)
	f, err := forest.Build(p.table, toks, matches, fallback)
	if err != nil {
		return nil, noFailure, err
	}
	if len(f.AcceptVertices) == 0 {
		return nil, noStartSymbol, nil
	}
	results, err := pfsearch.Search(f, costsOf(f), p.g, p.cfg.maxPaths)
	if err != nil {
		return nil, noFailure, err
	}
	if len(results) == 0 {
		return nil, noLegalTrees, nil
	}
	return results, noFailure, nil
}

// costsOf annotates every distinct accepted root the forest produced: a
// query can legally complete via more than one state-table path (e.g. with
// or without absorbing a trailing deletable token), each with its own root.
func costsOf(f *forest.Forest) heuristic.MinCosts {
	costs := make(heuristic.MinCosts)
	seen := make(map[*forest.Node]bool)
	for _, v := range f.AcceptVertices {
		root := f.Root(v)
		if root == nil || seen[root] {
			continue
		}
		seen[root] = true
		for n, c := range heuristic.Annotate(root) {
			costs[n] = c
		}
	}
	return costs
}
