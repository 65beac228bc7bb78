/*
Package matcher tokenizes a raw query and matches each token against the
grammar's terminals: literal words, integer-range placeholders and
multi-token entity aliases, applying deletable-token and insertion-cost
bookkeeping the forest builder consults when no literal match exists.

Tokenization is grounded on lr/scanner/lexmach
(github.com/npillmayer/gorgo/lr/scanner/lexmach): the same
lowercase-word/number/punctuation-skip DFA idiom, built directly against
github.com/timtadh/lexmachine rather than wrapped in a scanner.Tokenizer
interface (this package has no parallel grammar-agnostic scanner front end
to satisfy). Deletable/insertion bookkeeping and entity merge are grounded
on entity.Index's alias-subsequence contract.
*/
package matcher

import (
	"math"
	"strconv"
	"strings"

	"github.com/npillmayer/schuko/tracing"
	"github.com/timtadh/lexmachine"
	"github.com/timtadh/lexmachine/machines"
	"golang.org/x/exp/slices"

	"github.com/kortsch/nlquery"
	"github.com/kortsch/nlquery/entity"
	"github.com/kortsch/nlquery/grammar"
)

func tracer() tracing.Trace {
	return tracing.Select("nlquery.matcher")
}

// Tokenize splits a raw query into lowercase word/number tokens, skipping
// whitespace and punctuation, using the same lexmachine DFA idiom (word
// characters, digits, whitespace-skip) as the rest of the corpus.
func Tokenize(query string) ([]nlquery.Token, error) {
	lexer := lexmachine.NewLexer()
	var toks []nlquery.Token
	add := func(kind string) lexmachine.Action {
		return func(s *lexmachine.Scanner, m *machines.Match) (interface{}, error) {
			return m, nil
		}
	}
	lexer.Add([]byte(`[0-9]+(\.[0-9]+)?([eE][-+]?[0-9]+)?`), add("NUM"))
	lexer.Add([]byte(`0[xX][0-9a-fA-F]+`), add("NUM"))
	lexer.Add([]byte(`([a-zA-Z])([a-zA-Z0-9_'-]*)`), add("WORD"))
	lexer.Add([]byte(`( |\t|\n|\r)+`), skip)
	lexer.Add([]byte(`[[:punct:]]`), skip)
	if err := lexer.Compile(); err != nil {
		return nil, err
	}
	scanner, err := lexer.Scanner([]byte(query))
	if err != nil {
		return nil, err
	}
	var idx uint32
	for {
		tk, err, eof := scanner.Next()
		if eof {
			break
		}
		if err != nil {
			if ui, is := err.(*machines.UnconsumedInput); is {
				scanner.TC = ui.FailTC
				continue
			}
			return nil, err
		}
		m := tk.(*machines.Match)
		toks = append(toks, nlquery.Token{
			Lexeme: strings.ToLower(string(m.Bytes)),
			Pos:    nlquery.Span{idx, idx + 1},
		})
		idx++
	}
	return toks, nil
}

func skip(*lexmachine.Scanner, *machines.Match) (interface{}, error) { return nil, nil }

// Match is everything the forest builder needs to know about one input
// token: the literal/entity/int-range terminal symbols it can be shifted
// as, plus any multi-token entity spans starting here.
type Match struct {
	Token     nlquery.Token
	Terminals []*grammar.Symbol    // literal terminal symbols this token equals
	IntSyms   []*grammar.Symbol    // int-range placeholders this token's value falls in
	Entities  []EntitySpan         // entity aliases (single- or multi-token) beginning at this token
	Deletable bool                 // true if this token may be dropped (at the cost DeletionCost assigns)
}

// EntitySpan is one matched entity alias (Length 1 for a single-token alias).
type EntitySpan struct {
	Symbol *grammar.Symbol // the entity category's placeholder symbol
	Length int             // number of tokens consumed, starting at the match's token
	ID     string
	// Cost is the deletion cost absorbed bridging declared-deletable filler
	// tokens between this alias's real tokens (0 for a contiguous match).
	Cost float64
}

// MatchAll matches every input token against g's terminals, literal word by
// literal word, entity aliases, and integer ranges, and marks deletable
// tokens under the three-tier cost model DeletionCost implements: a
// declared deletable is always droppable; a token matching nothing in the
// grammar at all (unrecognised) is cheap noise and droppable on every pass,
// not just a fallback reparse; a token that does match something is only
// droppable once a first parse attempt has already failed, as an escalated
// last resort the fallback reparse may fall back on.
func MatchAll(g *grammar.Grammar, toks []nlquery.Token, catSymbols map[string]*grammar.Symbol, allowFallback bool) []Match {
	out := make([]Match, len(toks))
	literalSym := make(map[string]*grammar.Symbol)
	for _, s := range g.Terminals {
		if !s.IsPlaceholder() {
			literalSym[s.Name] = s
		}
	}
	for i, tok := range toks {
		m := Match{Token: tok}
		if sym, ok := literalSym[tok.Lexeme]; ok {
			m.Terminals = append(m.Terminals, sym)
		}
		if n, ok := cleanInteger(tok.Lexeme); ok {
			for _, is := range g.IntSymbols {
				if n >= is.Min && n <= is.Max {
					m.IntSyms = append(m.IntSyms, is.Symbol)
				}
			}
		}
		m.Entities = matchEntitiesAt(g, toks, i, catSymbols)
		noMatch := len(m.Terminals) == 0 && len(m.IntSyms) == 0 && len(m.Entities) == 0
		switch {
		case g.Deletables[tok.Lexeme]:
			m.Deletable = true
		case noMatch:
			m.Deletable = true
		case allowFallback:
			m.Deletable = true
		}
		out[i] = m
	}
	return out
}

// cleanInteger parses a numeric lexeme, normalising hex-looking forms,
// exponent notation, leading zeros and float rounding to the nearest int.
func cleanInteger(lexeme string) (int, bool) {
	s := lexeme
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	trimmed := strings.TrimLeft(s, "0")
	if n, err := strconv.Atoi(trimmed); err == nil {
		return n, true
	}
	if trimmed == "" {
		return 0, true
	}
	// Decimal or exponent form: parse as float and round to the nearest int.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(math.Round(f)), true
	}
	return 0, false
}

// matchEntitiesAt finds every entity alias in g's index that begins at
// toks[i]. A multi-token alias matches not only when its remaining tokens
// appear contiguously, but also when they are separated by declared
// deletable filler tokens (e.g. "Jeb and Bush" matching the alias "Jeb
// Bush" across the deletable "and"): the window is grown one token at a
// time, each new token either extending the matched subsequence (verified
// via MultiTokenCandidates/ContainsSubsequence) or, if it does not belong to
// the alias, bridged as a deletion when it is declared deletable. Matching
// stops at the first complete subsequence, absorbing the bridged tokens'
// deletion cost into the span's Cost.
func matchEntitiesAt(g *grammar.Grammar, toks []nlquery.Token, i int, catSymbols map[string]*grammar.Symbol) []EntitySpan {
	cands := g.Entities.Lookup(toks[i].Lexeme)
	if len(cands) == 0 {
		return nil
	}

	type key struct {
		id     string
		length int
	}
	best := make(map[key]EntitySpan)
	record := func(rec *entity.Record, length int, cost float64) {
		sym := catSymbols[rec.Category]
		if sym == nil {
			return
		}
		k := key{id: rec.ID, length: length}
		if existing, ok := best[k]; !ok || cost < existing.Cost {
			best[k] = EntitySpan{Symbol: sym, Length: length, ID: rec.ID, Cost: cost}
		}
	}

	for _, rec := range cands {
		matched := []string{toks[i].Lexeme}
		if _, complete := entity.ContainsSubsequence(rec, matched); complete {
			record(rec, 1, 0)
			continue
		}
		cost := 0.0
		for endIdx := i + 1; endIdx < len(toks); endIdx++ {
			tok := toks[endIdx].Lexeme
			belongs := false
			for _, c := range g.Entities.MultiTokenCandidates(tok) {
				if c == rec {
					belongs = true
					break
				}
			}
			if belongs {
				trial := append(append([]string(nil), matched...), tok)
				isSub, complete := entity.ContainsSubsequence(rec, trial)
				if !isSub {
					break
				}
				matched = trial
				if complete {
					record(rec, endIdx-i+1, cost)
					break
				}
				continue
			}
			if !g.Deletables[tok] {
				break
			}
			cost += DeletionCost(g, tok, endIdx, len(toks), false, false)
		}
	}

	spans := make([]EntitySpan, 0, len(best))
	for _, es := range best {
		spans = append(spans, es)
	}
	slices.SortFunc(spans, func(a, b EntitySpan) bool {
		if a.Length != b.Length {
			return a.Length > b.Length
		}
		return a.ID < b.ID
	})
	return spans
}

// DeletionCost returns the admissible cost of dropping a token, under a
// three-tier model: a declared deletable (an intentional filler word)
// costs 1 and is droppable on every pass; a token matching nothing in the
// grammar at all (unrecognised) costs 3 and is likewise droppable on every
// pass, since out-of-vocabulary noise should not by itself force the more
// expensive fallback reparse; a token that does match something but still
// needs to be dropped is only droppable once a first parse attempt has
// already failed, at an escalated cost of 10 plus a small position-dependent
// epsilon that decreases toward end-of-input, so equal-cost ties are broken
// in favour of dropping the token closest to the end of the query.
func DeletionCost(g *grammar.Grammar, lexeme string, pos, total int, unrecognised, fallback bool) float64 {
	if g.Deletables[lexeme] {
		return 1.0
	}
	if unrecognised {
		return 3.0
	}
	if fallback {
		return 10.0 + epsilonFor(pos, total)
	}
	return 0
}

// epsilonFor returns a small tie-breaking increment, decreasing toward
// end-of-input (pos == total-1), used only by the escalated fallback tier.
func epsilonFor(pos, total int) float64 {
	if total <= 1 {
		return 0
	}
	return 0.01 * float64(total-1-pos) / float64(total-1)
}
