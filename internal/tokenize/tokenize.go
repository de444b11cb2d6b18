// Package tokenize turns source text and query text into normalized term
// lists used by the BM25 index and by keyword-weighted chunk payloads.
package tokenize

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"the":    {},
	"a":      {},
	"an":     {},
	"get":    {},
	"set":    {},
	"this":   {},
	"return": {},
}

// Options controls case folding for Tokenize.
type Options struct {
	CaseSensitive bool
}

// Tokenize splits text on non-alphanumeric boundaries and camelCase /
// PascalCase boundaries, strips the stop-list, and lowercases unless
// CaseSensitive is set. Multiplicity is preserved: a term appearing twice
// in text appears twice in the result, in source order.
func Tokenize(text string, opts Options) []string {
	var terms []string
	for _, word := range splitNonAlnum(text) {
		for _, part := range splitCamelCase(word) {
			terms = append(terms, part)
		}
		if len(splitCamelCase(word)) > 1 {
			terms = append(terms, word)
		}
	}

	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if term == "" {
			continue
		}
		norm := term
		if !opts.CaseSensitive {
			norm = strings.ToLower(norm)
		}
		if _, stop := stopWords[strings.ToLower(norm)]; stop {
			continue
		}
		out = append(out, norm)
	}
	return out
}

// Keywords deduplicates Tokenize's output, preserving first-seen order.
// It is the companion field-level view: BM25 wants multiplicity, keyword
// payloads want a set.
func Keywords(text string, opts Options) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, term := range Tokenize(text, opts) {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

func splitNonAlnum(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// splitCamelCase splits a single alphanumeric word into its camelCase /
// PascalCase parts. A word with no case boundaries returns itself as the
// sole element.
func splitCamelCase(word string) []string {
	runes := []rune(word)
	if len(runes) == 0 {
		return nil
	}

	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			boundary = true
		case unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			boundary = true
		case unicode.IsLetter(prev) && unicode.IsDigit(cur):
			boundary = true
		case unicode.IsDigit(prev) && unicode.IsLetter(cur):
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	parts = append(parts, string(runes[start:]))

	if len(parts) == 1 {
		return parts
	}
	return parts
}
