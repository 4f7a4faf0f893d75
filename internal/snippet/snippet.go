// Package snippet defines the unit of retrieval: a contiguous line range
// within one file of a repository snapshot.
package snippet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRange indicates start/end outside the file or start > end.
	ErrInvalidRange = errors.New("invalid line range")

	// ErrNotMergeable indicates two snippets cannot be unioned.
	ErrNotMergeable = errors.New("snippets not mergeable")

	// ErrInvalidDenotation indicates a malformed "path:start-end" string.
	ErrInvalidDenotation = errors.New("invalid denotation")
)

// Snippet is a contiguous range of lines in a file.
//
// Start and End are 0-based line indices and End is exclusive, so a
// snippet covering the first ten lines of a file is [0, 10). Content is
// the full text of the file the snippet was cut from.
type Snippet struct {
	Content  string `json:"-"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	FilePath string `json:"file_path"`
}

// New returns a validated snippet.
func New(filePath, content string, start, end int) (Snippet, error) {
	s := Snippet{Content: content, Start: start, End: end, FilePath: filePath}
	if err := s.Validate(); err != nil {
		return Snippet{}, err
	}
	return s, nil
}

// Validate checks 0 <= Start <= End <= line count.
func (s Snippet) Validate() error {
	if s.FilePath == "" {
		return fmt.Errorf("%w: empty file path", ErrInvalidRange)
	}
	if s.Start < 0 || s.Start > s.End || s.End > LineCount(s.Content) {
		return fmt.Errorf("%w: %s:%d-%d (file has %d lines)", ErrInvalidRange, s.FilePath, s.Start, s.End, LineCount(s.Content))
	}
	return nil
}

// Denotation returns the identity string "{file_path}:{start}-{end}".
func (s Snippet) Denotation() string {
	return s.FilePath + ":" + strconv.Itoa(s.Start) + "-" + strconv.Itoa(s.End)
}

// String implements fmt.Stringer.
func (s Snippet) String() string {
	return s.Denotation()
}

// Len returns the number of lines covered.
func (s Snippet) Len() int {
	return s.End - s.Start
}

// Lines returns the covered lines.
func (s Snippet) Lines() []string {
	all := SplitLines(s.Content)
	start, end := clamp(s.Start, 0, len(all)), clamp(s.End, 0, len(all))
	if start >= end {
		return nil
	}
	return all[start:end]
}

// Text returns the covered lines joined with newlines.
func (s Snippet) Text() string {
	return strings.Join(s.Lines(), "\n")
}

// Overlaps reports whether both snippets are in the same file and their
// ranges overlap or touch.
func (s Snippet) Overlaps(other Snippet) bool {
	if s.FilePath != other.FilePath {
		return false
	}
	return s.Start <= other.End && other.Start <= s.End
}

// Contains reports whether other lies entirely inside s.
func (s Snippet) Contains(other Snippet) bool {
	return s.FilePath == other.FilePath && s.Start <= other.Start && other.End <= s.End
}

// Union merges two overlapping or touching snippets of the same file
// snapshot into the smallest snippet covering both. It is commutative.
func (s Snippet) Union(other Snippet) (Snippet, error) {
	if s.FilePath != other.FilePath {
		return Snippet{}, fmt.Errorf("%w: different files %q and %q", ErrNotMergeable, s.FilePath, other.FilePath)
	}
	if s.Content != other.Content {
		return Snippet{}, fmt.Errorf("%w: %s has differing content", ErrNotMergeable, s.FilePath)
	}
	if !s.Overlaps(other) {
		return Snippet{}, fmt.Errorf("%w: %s and %s are disjoint", ErrNotMergeable, s.Denotation(), other.Denotation())
	}
	return Snippet{
		Content:  s.Content,
		Start:    min(s.Start, other.Start),
		End:      max(s.End, other.End),
		FilePath: s.FilePath,
	}, nil
}

// Expand widens the snippet by n lines on each side, clamped to the file.
func (s Snippet) Expand(n int) Snippet {
	total := LineCount(s.Content)
	s.Start = clamp(s.Start-n, 0, total)
	s.End = clamp(s.End+n, s.Start, total)
	return s
}

// WithRange returns a copy of s covering [start, end) of the same file.
func (s Snippet) WithRange(start, end int) (Snippet, error) {
	return New(s.FilePath, s.Content, start, end)
}

// ParseDenotation splits "path:start-end" into its parts. The path may
// itself contain colons; the range is taken from the last one.
func ParseDenotation(d string) (path string, start, end int, err error) {
	idx := strings.LastIndex(d, ":")
	if idx <= 0 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidDenotation, d)
	}
	path = d[:idx]
	lo, hi, ok := strings.Cut(d[idx+1:], "-")
	if !ok {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidDenotation, d)
	}
	if start, err = strconv.Atoi(lo); err != nil {
		return "", 0, 0, fmt.Errorf("%w: %q: %v", ErrInvalidDenotation, d, err)
	}
	if end, err = strconv.Atoi(hi); err != nil {
		return "", 0, 0, fmt.Errorf("%w: %q: %v", ErrInvalidDenotation, d, err)
	}
	return path, start, end, nil
}

// SplitLines splits text into lines. A trailing newline does not produce
// an extra empty line, and empty text has zero lines.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// LineCount returns len(SplitLines(text)) without allocating.
func LineCount(text string) int {
	if text == "" {
		return 0
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Count(text, "\n") + 1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
