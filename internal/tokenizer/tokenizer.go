// Package tokenizer splits source text into lowercase, identifier-aware
// tokens used by the lexical index.
//
// Identifiers are broken apart at snake_case and camelCase boundaries so
// that "computeTotal", "compute_total" and "ComputeTotal" all yield the
// tokens "compute" and "total".
package tokenizer

import (
	"cmp"
	"iter"
	"slices"
	"strings"
	"unicode"
)

// Token is a single emitted term and its ordinal among emitted terms.
type Token struct {
	Text     string
	Position int
}

// Set is a set of words.
type Set map[string]struct{}

// NewSet builds a Set from words, lowercased.
func NewSet(words ...string) Set {
	s := make(Set, len(words))
	for _, w := range words {
		s[strings.ToLower(w)] = struct{}{}
	}
	return s
}

// Has reports whether w is in the set. A nil set contains nothing.
func (s Set) Has(w string) bool {
	_, ok := s[w]
	return ok
}

// Tokenize returns a lazy, restartable sequence of tokens for text.
// Tokens shorter than two characters and tokens in stopwords are dropped.
func Tokenize(text string, stopwords Set) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		pos := 0
		emit := func(part string) bool {
			if len(part) <= 1 {
				return true
			}
			lower := strings.ToLower(part)
			if stopwords.Has(lower) {
				return true
			}
			ok := yield(Token{Text: lower, Position: pos})
			pos++
			return ok
		}

		for run := range wordRuns(text) {
			if strings.Contains(run, "_") {
				for _, part := range strings.Split(run, "_") {
					if !emitSplit(part, emit) {
						return
					}
				}
				continue
			}
			if !emitSplit(run, emit) {
				return
			}
		}
	}
}

// emitSplit emits the camelCase parts of word. When the parts do not cover
// every character of word (digit runs, "x86", "utf8") word is emitted whole.
func emitSplit(word string, emit func(string) bool) bool {
	if word == "" {
		return true
	}
	parts := camelParts(word)
	if !covers(parts, word) {
		return emit(word)
	}
	for _, p := range parts {
		if !emit(p) {
			return false
		}
	}
	return true
}

func covers(parts []string, word string) bool {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return len(parts) > 0 && n == len(word)
}

// Texts collects the token strings of text.
func Texts(text string, stopwords Set) []string {
	var out []string
	for tok := range Tokenize(text, stopwords) {
		out = append(out, tok.Text)
	}
	return out
}

// Join renders token texts as a single space-separated string.
func Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

// CorpusStopwords returns the n most frequent tokens across texts. Ties are
// broken lexicographically so the result is deterministic.
func CorpusStopwords(texts []string, n int) Set {
	if n <= 0 {
		return Set{}
	}
	freq := make(map[string]int)
	for _, text := range texts {
		for tok := range Tokenize(text, nil) {
			freq[tok.Text]++
		}
	}

	type entry struct {
		word  string
		count int
	}
	entries := make([]entry, 0, len(freq))
	for w, c := range freq {
		entries = append(entries, entry{w, c})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return strings.Compare(a.word, b.word)
	})

	out := make(Set, n)
	for i := 0; i < len(entries) && i < n; i++ {
		out[entries[i].word] = struct{}{}
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordRuns yields maximal runs of word characters.
func wordRuns(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := -1
		for i, r := range text {
			if isWordRune(r) {
				if start < 0 {
					start = i
				}
				continue
			}
			if start >= 0 {
				if !yield(text[start:i]) {
					return
				}
				start = -1
			}
		}
		if start >= 0 {
			yield(text[start:])
		}
	}
}

// camelParts finds, left to right, the non-overlapping matches of
// Upper+lower*, lower+, or an uppercase run followed by another uppercase
// letter or end of word ("HTTPServer" -> "HTTP", "Server"). Characters that
// start none of these are skipped.
func camelParts(word string) []string {
	rs := []rune(word)
	n := len(rs)
	var parts []string
	for i := 0; i < n; {
		switch {
		case unicode.IsUpper(rs[i]):
			j := i + 1
			for j < n && unicode.IsLower(rs[j]) {
				j++
			}
			if j > i+1 {
				parts = append(parts, string(rs[i:j]))
				i = j
				continue
			}
			k := i
			for k < n && unicode.IsUpper(rs[k]) {
				k++
			}
			switch {
			case k == n:
				parts = append(parts, string(rs[i:k]))
				i = k
			case k-1 > i:
				parts = append(parts, string(rs[i:k-1]))
				i = k - 1
			default:
				i++
			}
		case unicode.IsLower(rs[i]):
			j := i + 1
			for j < n && unicode.IsLower(rs[j]) {
				j++
			}
			parts = append(parts, string(rs[i:j]))
			i = j
		default:
			i++
		}
	}
	return parts
}
