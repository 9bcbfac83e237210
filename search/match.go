package search

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
	textsearch "golang.org/x/text/search"
)

// matcher finds every non-overlapping occurrence of a query in page text, in text order
type matcher struct {
	query     string
	wholeWord bool
	// pattern is nil for case-sensitive queries, which compare bytes
	pattern *textsearch.Pattern
}

func newMatcher(query string, opts Options) *matcher {
	m := &matcher{query: query, wholeWord: opts.WholeWord}
	if !opts.CaseSensitive {
		tag := language.Und
		if opts.Language != "" {
			tag = language.Make(opts.Language)
		}
		m.pattern = textsearch.New(tag, textsearch.IgnoreCase).CompileString(query)
	}
	return m
}

func (m *matcher) index(text string) (int, int) {
	if m.pattern != nil {
		return m.pattern.IndexString(text)
	}
	start := strings.Index(text, m.query)
	if start < 0 {
		return -1, -1
	}
	return start, start + len(m.query)
}

// findAll returns byte ranges into text
func (m *matcher) findAll(text string) [][2]int {
	var out [][2]int
	pos := 0
	for pos < len(text) {
		start, end := m.index(text[pos:])
		if start < 0 {
			break
		}
		start, end = start+pos, end+pos
		if end <= start || (m.wholeWord && !wordBounded(text, start, end)) {
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + max(size, 1)
			continue
		}
		out = append(out, [2]int{start, end})
		pos = end
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordBounded(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}
