/*
Package nlquery implements a natural-language parser for a closed,
grammar-defined query domain (searching people, repositories, issues, etc.
by structured predicates).

A finalized grammar (package grammar) is compiled once into a state table
(package statetable). Each query is tokenized and matched against terminals
(package matcher), driven through the state table to build a packed parse
forest (package forest), annotated with admissible cost bounds (package
heuristic), and searched best-first for the k cheapest legal derivations
(package pfsearch). Package parser wires these stages together.

License

Governed by a 3-Clause BSD license.
*/
package nlquery

import "fmt"

// TokType identifies the category of a token. nlquery only establishes the
// type; no package of this module defines concrete values for it.
type TokType int32

// Span denotes a half-open token range [From, To) within a query's token
// sequence.
type Span [2]uint32

// From returns the start position of a span.
func (s Span) From() uint32 { return s[0] }

// To returns the position just behind the span's end.
func (s Span) To() uint32 { return s[1] }

// Len returns the number of tokens covered by a span.
func (s Span) Len() uint32 { return s[1] - s[0] }

// IsNull returns true for the zero span.
func (s Span) IsNull() bool { return s == Span{} }

func (s Span) String() string { return fmt.Sprintf("(%d…%d)", s[0], s[1]) }

// Token is a single lexical unit produced by the terminal matcher's
// tokenizer. Lexeme is the raw (lowercased) text; Span locates it within the
// query's token sequence.
type Token struct {
	Lexeme string
	Pos    Span
}

func (t Token) String() string { return fmt.Sprintf("%q@%s", t.Lexeme, t.Pos) }
