/*
Package entity implements the entity index consumed by the terminal matcher:
a mapping from input tokens to candidate entity records (people,
repositories, issues, ...), each carrying a category, a stable id, its
surface text and the set of tokens it spans.

Grounded on runtime.SymbolTable (github.com/npillmayer/gorgo/runtime), which
plays the analogous role of "map a name to a record, allow several aliases
per record" for a compiler's scope tree. Entities here replace tags, and the
index is keyed by token rather than by scope, but the resolve/define split is
the same shape.
*/
package entity

import "golang.org/x/exp/slices"

// Record is a single entity alias: several Records may share an ID when an
// entity has more than one alias (e.g. "Jeb Bush" and a nickname both
// resolving to the same person).
type Record struct {
	ID      string   // stable entity id, shared across aliases
	Category string   // entity category (person, repo, issue, ...)
	Surface string   // display text for this alias
	Tokens  []string // the (lowercased) token sequence this alias spans, in order
	// AnaphoraPersonNumber, if non-empty, binds an antecedent person-number
	// context an anaphor later in the query can resolve against.
	AnaphoraPersonNumber string
}

// Size is the number of tokens this alias spans.
func (r *Record) Size() int { return len(r.Tokens) }

// tokenSet returns r.Tokens as a set for subsequence/overlap checks.
func (r *Record) tokenSet() map[string]int {
	m := make(map[string]int, len(r.Tokens))
	for i, t := range r.Tokens {
		m[t] = i
	}
	return m
}

// Index maps a token to every Record whose alias includes that token as its
// first token (single-token aliases) or as any token (multi-token aliases,
// used by the matcher's multi-token merge pass).
type Index struct {
	byFirstToken map[string][]*Record
	byAnyToken   map[string][]*Record
}

// NewIndex builds an Index from a flat list of records. Records are grouped
// by their first token for single-token lookup and, for records spanning
// more than one token, by every token they contain (needed for the
// multi-token entity merge pass run by the matcher).
func NewIndex(records []*Record) *Index {
	idx := &Index{
		byFirstToken: make(map[string][]*Record),
		byAnyToken:   make(map[string][]*Record),
	}
	for _, r := range records {
		if len(r.Tokens) == 0 {
			continue
		}
		idx.byFirstToken[r.Tokens[0]] = append(idx.byFirstToken[r.Tokens[0]], r)
		if len(r.Tokens) > 1 {
			for _, t := range r.Tokens {
				idx.byAnyToken[t] = append(idx.byAnyToken[t], r)
			}
		}
	}
	return idx
}

// Lookup returns every record whose alias begins with token (single-token
// matches are a subset where Size()==1).
func (idx *Index) Lookup(token string) []*Record {
	return idx.byFirstToken[token]
}

// MultiTokenCandidates returns every multi-token record that contains token
// anywhere in its alias, for building partial matches during the matcher's
// multi-token merge pass.
func (idx *Index) MultiTokenCandidates(token string) []*Record {
	return idx.byAnyToken[token]
}

// ContainsSubsequence reports whether the token multiset `matched` is a
// subsequence of r's token set with no token index matched twice (a
// prefix-free match), and whether it equals the full set (a completed
// match).
func ContainsSubsequence(r *Record, matched []string) (isSubsequence bool, isComplete bool) {
	want := r.tokenSet()
	seen := make(map[int]bool, len(matched))
	sorted := append([]string(nil), matched...)
	slices.Sort(sorted)
	for _, tok := range sorted {
		idx, ok := want[tok]
		if !ok || seen[idx] {
			return false, false
		}
		seen[idx] = true
	}
	return true, len(seen) == len(want)
}
