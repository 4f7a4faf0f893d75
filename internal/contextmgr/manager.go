// Package contextmgr holds the state of one retrieval: the ranked
// candidates, the snippets currently selected, their scores and the
// directory view shown to a controller.
package contextmgr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/repoctx/internal/dirtree"
	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// ErrUnknownFile indicates the path is not part of the scanned repository.
var ErrUnknownFile = errors.New("unknown file")

// Manager aggregates retrieval state. It has a single writer: mutating
// methods must not be called concurrently. Accessors return copies.
type Manager struct {
	query  string
	repo   repository.Repo
	files  map[string]string
	paths  []string
	all    []snippet.Snippet
	top    []snippet.Snippet
	scores map[string]float64
	tree   *dirtree.Tree
}

// Params seed a Manager.
type Params struct {
	Query string
	Repo  repository.Repo
	// Files are the scanned files; the tree and file reads use them.
	Files []repository.File
	// Ranked are all candidates in rank order.
	Ranked []snippet.Snippet
	// Top is the initial selection.
	Top []snippet.Snippet
	// Scores maps denotations to fused scores. It is not modified.
	Scores map[string]float64
}

// New creates a Manager. Directories holding the initial selection are
// expanded in the tree.
func New(p Params) *Manager {
	m := &Manager{
		query:  p.Query,
		repo:   p.Repo,
		files:  make(map[string]string, len(p.Files)),
		all:    append([]snippet.Snippet(nil), p.Ranked...),
		top:    append([]snippet.Snippet(nil), p.Top...),
		scores: p.Scores,
	}
	if m.scores == nil {
		m.scores = map[string]float64{}
	}
	for _, f := range p.Files {
		m.files[f.Path] = f.Content
		m.paths = append(m.paths, f.Path)
	}
	sort.Strings(m.paths)
	m.tree = dirtree.New(m.paths)
	for _, s := range m.top {
		_ = m.tree.Reveal(s.FilePath)
	}
	return m
}

// Query returns the problem statement.
func (m *Manager) Query() string { return m.query }

// Repo returns the repository handle.
func (m *Manager) Repo() repository.Repo { return m.repo }

// AllSnippets returns every ranked candidate.
func (m *Manager) AllSnippets() []snippet.Snippet {
	return append([]snippet.Snippet(nil), m.all...)
}

// TopSnippets returns the current selection in order.
func (m *Manager) TopSnippets() []snippet.Snippet {
	return append([]snippet.Snippet(nil), m.top...)
}

// SetTopSnippets replaces the current selection.
func (m *Manager) SetTopSnippets(snips []snippet.Snippet) {
	m.top = append(m.top[:0:0], snips...)
}

// Scores returns a copy of the score map.
func (m *Manager) Scores() map[string]float64 {
	out := make(map[string]float64, len(m.scores))
	for k, v := range m.scores {
		out[k] = v
	}
	return out
}

// Score returns the fused score for a denotation. A range that was never
// ranked takes the best score of ranked snippets it overlaps.
func (m *Manager) Score(denotation string) float64 {
	if v, ok := m.scores[denotation]; ok {
		return v
	}
	p, start, end, err := snippet.ParseDenotation(denotation)
	if err != nil {
		return 0
	}
	best := 0.0
	for _, s := range m.all {
		if s.FilePath == p && s.Start < end && start < s.End {
			best = max(best, m.scores[s.Denotation()])
		}
	}
	return best
}

// AddSnippet adds s to the selection. A snippet already selected is a
// no-op; one that overlaps a selected snippet of the same file is merged
// into it in place. It reports whether the selection changed.
func (m *Manager) AddSnippet(s snippet.Snippet) bool {
	for i, cur := range m.top {
		if cur.Contains(s) && cur.Content == s.Content {
			return false
		}
		if u, err := cur.Union(s); err == nil {
			m.top[i] = u
			m.mergeFrom(i)
			return true
		}
	}
	m.top = append(m.top, s)
	return true
}

// mergeFrom folds later selected snippets that now overlap m.top[i].
func (m *Manager) mergeFrom(i int) {
	for j := i + 1; j < len(m.top); {
		if u, err := m.top[i].Union(m.top[j]); err == nil {
			m.top[i] = u
			m.top = append(m.top[:j], m.top[j+1:]...)
			continue
		}
		j++
	}
}

// RemoveSnippet drops the selected snippet with the given denotation.
func (m *Manager) RemoveSnippet(denotation string) bool {
	for i, s := range m.top {
		if s.Denotation() == denotation {
			m.top = append(m.top[:i], m.top[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveFile drops every selected snippet of path and returns how many
// were removed.
func (m *Manager) RemoveFile(path string) int {
	path = dirtree.Clean(path)
	kept := m.top[:0]
	removed := 0
	for _, s := range m.top {
		if s.FilePath == path {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	m.top = kept
	return removed
}

// Sort orders the selection by descending score; ties keep their order.
func (m *Manager) Sort() {
	sort.SliceStable(m.top, func(i, j int) bool {
		return m.Score(m.top[i].Denotation()) > m.Score(m.top[j].Denotation())
	})
}

// FilePaths returns every scanned path, sorted.
func (m *Manager) FilePaths() []string {
	return append([]string(nil), m.paths...)
}

// HasFile reports whether path was scanned.
func (m *Manager) HasFile(path string) bool {
	_, ok := m.files[dirtree.Clean(path)]
	return ok
}

// FileContents returns the scanned content of path.
func (m *Manager) FileContents(path string) (string, error) {
	if c, ok := m.files[dirtree.Clean(path)]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFile, path)
}

// Snippet builds a snippet over [start, end) of a scanned file.
func (m *Manager) Snippet(path string, start, end int) (snippet.Snippet, error) {
	path = dirtree.Clean(path)
	content, err := m.FileContents(path)
	if err != nil {
		return snippet.Snippet{}, err
	}
	return snippet.New(path, content, start, end)
}

// Tree returns the directory view.
func (m *Manager) Tree() *dirtree.Tree { return m.tree }

// ExpandDirectory expands dir in the directory view.
func (m *Manager) ExpandDirectory(dir string) error { return m.tree.Expand(dir) }

// CollapseDirectory collapses dir in the directory view.
func (m *Manager) CollapseDirectory(dir string) error { return m.tree.Collapse(dir) }

// RenderTree draws the directory view.
func (m *Manager) RenderTree() string { return m.tree.Render() }

// Summary describes the current selection and directory view.
func (m *Manager) Summary() string {
	var b strings.Builder
	if len(m.top) == 0 {
		b.WriteString("No snippets selected.\n")
	} else {
		b.WriteString("Selected snippets:\n")
		for _, s := range m.top {
			fmt.Fprintf(&b, "- %s\n", s.Denotation())
		}
	}
	b.WriteString("\nRepository tree:\n")
	b.WriteString(m.RenderTree())
	return b.String()
}

// DescribeRanked lists the first n ranked candidates with their scores.
func (m *Manager) DescribeRanked(n int) string {
	var b strings.Builder
	for i, s := range m.all {
		if n > 0 && i >= n {
			break
		}
		fmt.Fprintf(&b, "%d. %s (score %.3f)\n", i+1, s.Denotation(), m.Score(s.Denotation()))
	}
	return b.String()
}
