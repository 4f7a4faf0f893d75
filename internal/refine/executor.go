package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/repoctx/internal/contextmgr"
	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// ErrSearchUnavailable is returned for search_codebase without a Searcher.
var ErrSearchUnavailable = errors.New("codebase search is not available")

// SearchHit is one ranked snippet from a codebase search.
type SearchHit struct {
	Snippet snippet.Snippet
	Score   float64
}

// Searcher ranks snippets against a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// execute runs one tool call against mgr and returns the text shown to the
// controller. Errors are tool failures the controller can correct.
func (l *Loop) execute(ctx context.Context, mgr *contextmgr.Manager, call ToolCall) (string, error) {
	switch c := call.(type) {
	case ExpandDirectory:
		if err := mgr.ExpandDirectory(c.Path); err != nil {
			return "", err
		}
		children, err := mgr.Tree().Children(c.Path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Expanded %s:\n%s", displayDir(c.Path), strings.Join(children, "\n")), nil

	case CollapseDirectory:
		if err := mgr.CollapseDirectory(c.Path); err != nil {
			return "", err
		}
		return "Collapsed " + displayDir(c.Path), nil

	case SearchKeyword:
		return searchKeyword(mgr, c.Query, l.cfg.MaxSearchResults), nil

	case SearchCodebase:
		if l.searcher == nil {
			return "", ErrSearchUnavailable
		}
		hits, err := l.searcher.Search(ctx, c.Query, l.cfg.MaxSearchResults)
		if err != nil {
			return "", fmt.Errorf("searching codebase: %w", err)
		}
		if len(hits) == 0 {
			return "No matching snippets.", nil
		}
		var b strings.Builder
		for i, h := range hits {
			first := ""
			if lines := h.Snippet.Lines(); len(lines) > 0 {
				first = strings.TrimSpace(lines[0])
			}
			fmt.Fprintf(&b, "%d. %s (score %.3f) %s\n", i+1, h.Snippet.Denotation(), h.Score, truncate(first, 80))
		}
		return b.String(), nil

	case ViewFile:
		content, err := mgr.FileContents(c.Path)
		if err != nil {
			return "", err
		}
		total := snippet.LineCount(content)
		end := total
		if l.cfg.MaxViewLines > 0 && end > l.cfg.MaxViewLines {
			end = l.cfg.MaxViewLines
		}
		out := numbered(content, 0, end)
		if end < total {
			out += fmt.Sprintf("... %d more lines; use view_range to see them\n", total-end)
		}
		return out, nil

	case ViewRange:
		content, err := mgr.FileContents(c.Path)
		if err != nil {
			return "", err
		}
		total := snippet.LineCount(content)
		if c.Start >= total {
			return "", fmt.Errorf("%s has %d lines; start %d is past the end", c.Path, total, c.Start)
		}
		return numbered(content, c.Start, min(c.End, total)), nil

	case StoreSnippet:
		start, end := c.Start, c.End
		if c.Text != "" {
			content, err := mgr.FileContents(c.Path)
			if err != nil {
				return "", err
			}
			loc, ok := Locate(content, c.Text, l.cfg.MinConfidence)
			if !ok {
				return "", fmt.Errorf("could not locate the text in %s (best match %.2f)", c.Path, max(loc.Confidence, 0))
			}
			start, end = loc.Start, loc.End
		}
		s, err := mgr.Snippet(c.Path, start, end)
		if err != nil {
			return "", err
		}
		if !mgr.AddSnippet(s) {
			return "Already stored " + s.Denotation(), nil
		}
		return "Stored " + s.Denotation(), nil

	case RemoveSnippet:
		if c.HasRange {
			d := snippet.Snippet{FilePath: c.Path, Start: c.Start, End: c.End}.Denotation()
			if !mgr.RemoveSnippet(d) {
				return "", fmt.Errorf("no stored snippet %s", d)
			}
			return "Removed " + d, nil
		}
		n := mgr.RemoveFile(c.Path)
		if n == 0 {
			return "", fmt.Errorf("no stored snippets in %s", c.Path)
		}
		return fmt.Sprintf("Removed %d snippet(s) from %s", n, c.Path), nil

	default:
		return "", fmt.Errorf("tool %s cannot be executed", call.Tool())
	}
}

func displayDir(p string) string {
	if strings.Trim(p, "/. ") == "" {
		return "repository root"
	}
	return p
}

// numbered renders lines [start, end) of content prefixed by their index.
func numbered(content string, start, end int) string {
	lines := snippet.SplitLines(content)
	var b strings.Builder
	for i := start; i < end && i < len(lines); i++ {
		fmt.Fprintf(&b, "%5d | %s\n", i, lines[i])
	}
	return b.String()
}

// searchKeyword lists lines containing query, case-insensitively.
func searchKeyword(mgr *contextmgr.Manager, query string, limit int) string {
	needle := strings.ToLower(query)
	var (
		b     strings.Builder
		hits  int
		files int
	)
	for _, p := range mgr.FilePaths() {
		content, err := mgr.FileContents(p)
		if err != nil {
			continue
		}
		matched := false
		for i, line := range snippet.SplitLines(content) {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			if !matched {
				matched = true
				files++
			}
			hits++
			if limit <= 0 || hits <= limit {
				fmt.Fprintf(&b, "%s:%d | %s\n", p, i, truncate(strings.TrimSpace(line), 120))
			}
		}
	}
	if hits == 0 {
		return fmt.Sprintf("No lines contain %q.", query)
	}
	if limit > 0 && hits > limit {
		fmt.Fprintf(&b, "... %d more matches\n", hits-limit)
	}
	fmt.Fprintf(&b, "%d match(es) in %d file(s)\n", hits, files)
	return b.String()
}
