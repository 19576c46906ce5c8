// Package query defines the matcher interface searches run against the
// database and a small pattern language for building one from user text.
package query

import (
	"path/filepath"
	"strings"

	"github.com/jamesainslie/findex/pkg/findex/entry"
)

// Query decides whether an entry belongs in a search result.
type Query interface {
	// Match reports whether the entry satisfies the query.
	Match(e *entry.Entry) bool

	// MatchesEverything reports whether Match is true for any entry.
	// Searches use it to skip the per-entry walk and mirror the full
	// database into the view.
	MatchesEverything() bool
}

// MatchAll matches every entry.
type MatchAll struct{}

// Match always reports true.
func (MatchAll) Match(*entry.Entry) bool { return true }

// MatchesEverything always reports true.
func (MatchAll) MatchesEverything() bool { return true }

// token is one space-separated word of the query text. All tokens must match
// for the entry to match.
type token struct {
	text     string // lowercased
	glob     bool   // contains *, ? or [ -> filepath.Match on the basename
	fullPath bool   // contains / -> match against the full path
}

func (t token) match(e *entry.Entry) bool {
	if t.glob {
		ok, err := filepath.Match(t.text, strings.ToLower(e.Name))
		return err == nil && ok
	}
	if t.fullPath {
		return strings.Contains(strings.ToLower(e.Path()), t.text)
	}
	return strings.Contains(strings.ToLower(e.Name), t.text)
}

// wordQuery is the conjunction of its tokens.
type wordQuery struct {
	tokens []token
}

func (q *wordQuery) Match(e *entry.Entry) bool {
	for _, t := range q.tokens {
		if !t.match(e) {
			return false
		}
	}
	return true
}

func (q *wordQuery) MatchesEverything() bool { return len(q.tokens) == 0 }

// Parse builds a query from user text. Each space-separated word must match
// the entry name case-insensitively as a substring; words containing a path
// separator match against the full path instead, and words containing glob
// metacharacters are matched with filepath.Match against the basename. Empty
// or all-whitespace text matches everything.
func Parse(text string) Query {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return MatchAll{}
	}

	q := &wordQuery{tokens: make([]token, 0, len(fields))}
	for _, f := range fields {
		q.tokens = append(q.tokens, token{
			text:     strings.ToLower(f),
			glob:     strings.ContainsAny(f, "*?["),
			fullPath: strings.ContainsRune(f, '/'),
		})
	}
	return q
}
