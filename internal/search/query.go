// Package search parses forum search strings.
//
// A search string mixes bracketed tag names with free words:
//
//	[javascript] [react] closure loop
//
// Each bracketed token selects questions carrying that tag (case-insensitive,
// exact name). Every other whitespace-delimited token selects questions whose
// title or text contains it as a whole word. A question matches the search when
// it matches any single condition.
package search

import (
	"regexp"
	"strings"
	"unicode"
)

var tagPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// Query is a parsed search string. Tags and Words are lower-cased and
// deduplicated, in order of first appearance.
type Query struct {
	Tags  []string
	Words []string

	patterns []*regexp.Regexp
}

// Parse splits raw into tag names and words.
func Parse(raw string) Query {
	var tags []string
	for _, m := range tagPattern.FindAllStringSubmatch(raw, -1) {
		name := strings.ToLower(strings.TrimSpace(m[1]))
		if name != "" {
			tags = appendUnique(tags, name)
		}
	}

	rest := tagPattern.ReplaceAllString(raw, " ")
	var words []string
	for _, w := range strings.Fields(strings.ToLower(rest)) {
		words = appendUnique(words, w)
	}
	return NewQuery(tags, words)
}

// NewQuery builds a Query from already separated tags and words.
func NewQuery(tags, words []string) Query {
	q := Query{Tags: tags, Words: words}
	for _, w := range words {
		q.patterns = append(q.patterns, wordPattern(w))
	}
	return q
}

// Empty reports whether the query has no conditions. An empty query matches
// nothing.
func (q Query) Empty() bool {
	return len(q.Tags) == 0 && len(q.Words) == 0
}

// String renders the query back in search syntax.
func (q Query) String() string {
	parts := make([]string, 0, len(q.Tags)+len(q.Words))
	for _, t := range q.Tags {
		parts = append(parts, "["+t+"]")
	}
	parts = append(parts, q.Words...)
	return strings.Join(parts, " ")
}

// MatchesText reports whether any query word occurs as a whole word in title
// or text, ignoring case.
func (q Query) MatchesText(title, text string) bool {
	patterns := q.patterns
	if len(patterns) != len(q.Words) {
		patterns = patterns[:0:0]
		for _, w := range q.Words {
			patterns = append(patterns, wordPattern(w))
		}
	}
	for _, re := range patterns {
		if re.MatchString(title) || re.MatchString(text) {
			return true
		}
	}
	return false
}

// wordPattern matches w case-insensitively. A word boundary is only required
// on a side where w starts or ends with a word character, so tokens such as
// "c++" or ".net" can still match. Boundaries honour Unicode letters and
// digits, so "café" does not match inside "cafés".
func wordPattern(w string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?i)`)
	if isWordRune(firstRune(w)) {
		b.WriteString(`(?:^|` + nonWordClass + `)`)
	}
	b.WriteString(regexp.QuoteMeta(w))
	if isWordRune(lastRune(w)) {
		b.WriteString(`(?:` + nonWordClass + `|$)`)
	}
	return regexp.MustCompile(b.String())
}

const nonWordClass = `[^\p{L}\p{N}_]`

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
