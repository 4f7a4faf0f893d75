// Package chunker cuts source files into line-range snippets.
//
// Files in a supported language are split along syntax node boundaries with
// tree-sitter: sibling nodes are packed into chunks of at most MaxChars
// bytes, oversized nodes are split recursively, and chunks with little
// non-whitespace text are folded into their successor. Everything else,
// and any file the parser rejects, falls back to fixed line windows.
// Syntax chunks partition the file: ranges are contiguous and disjoint.
package chunker

import (
	"context"
	"sort"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// Default chunk sizes.
const (
	DefaultMaxChars      = 1500
	DefaultCoalesce      = 100
	DefaultWindowLines   = 40
	DefaultWindowOverlap = 0
)

// Config controls chunk sizes.
type Config struct {
	// MaxChars bounds a syntax chunk's byte length, except for single
	// tokens that cannot be split further.
	MaxChars int
	// Coalesce folds chunks with fewer non-whitespace characters into the
	// next chunk.
	Coalesce int
	// WindowLines is the fallback window height.
	WindowLines int
	// WindowOverlap is how many lines consecutive fallback windows share.
	WindowOverlap int
}

// DefaultConfig returns the default chunk sizes.
func DefaultConfig() Config {
	return Config{
		MaxChars:      DefaultMaxChars,
		Coalesce:      DefaultCoalesce,
		WindowLines:   DefaultWindowLines,
		WindowOverlap: DefaultWindowOverlap,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxChars <= 0 {
		c.MaxChars = d.MaxChars
	}
	if c.Coalesce < 0 {
		c.Coalesce = 0
	}
	if c.WindowLines <= 0 {
		c.WindowLines = d.WindowLines
	}
	if c.WindowOverlap < 0 || c.WindowOverlap >= c.WindowLines {
		c.WindowOverlap = 0
	}
	return c
}

// Chunker splits files into snippets. It is safe for concurrent use; each
// call builds its own parser.
type Chunker struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Chunker.
func New(cfg Config, logger *zap.Logger) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{cfg: cfg.withDefaults(), logger: logger}
}

// Chunk splits content into snippets. Empty content yields none.
func (c *Chunker) Chunk(path, content string) []snippet.Snippet {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if lang := LanguageFor(path); lang != nil {
		chunks, err := c.syntax(path, content, lang)
		if err == nil && len(chunks) > 0 {
			return chunks
		}
		c.logger.Debug("syntax chunking failed, using line windows",
			zap.String("path", path),
			zap.String("language", lang.Name),
			zap.Error(err),
		)
	}
	return Windows(path, content, c.cfg.WindowLines, c.cfg.WindowOverlap)
}

// Fine splits content into consecutive windows of the given height.
func (c *Chunker) Fine(path, content string, lines int) []snippet.Snippet {
	return Windows(path, content, lines, 0)
}

// Windows splits content into windows of size lines, consecutive windows
// sharing overlap lines. The last window ends at the end of the file.
func Windows(path, content string, size, overlap int) []snippet.Snippet {
	total := snippet.LineCount(content)
	if total == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	var out []snippet.Snippet
	for start := 0; start < total; start += step {
		end := min(start+size, total)
		out = append(out, snippet.Snippet{Content: content, Start: start, End: end, FilePath: path})
		if end == total {
			break
		}
	}
	return out
}

type span struct{ start, end uint32 }

func (s span) len() uint32 { return s.end - s.start }

func (c *Chunker) syntax(path, content string, lang *Language) ([]snippet.Snippet, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang.Grammar())

	src := []byte(content)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	spans := c.split(tree.RootNode())
	if len(spans) == 0 {
		return nil, nil
	}

	// close gaps so the spans tile the whole file
	spans[0].start = 0
	for i := 1; i < len(spans); i++ {
		spans[i-1].end = spans[i].start
	}
	spans[len(spans)-1].end = uint32(len(src))

	spans = coalesce(spans, src, c.cfg.Coalesce)
	return toSnippets(path, content, spans), nil
}

// split packs the children of node into spans no longer than MaxChars,
// descending into children that are too large on their own.
func (c *Chunker) split(node *sitter.Node) []span {
	limit := uint32(c.cfg.MaxChars)
	var out []span
	cur := span{node.StartByte(), node.StartByte()}

	n := int(node.ChildCount())
	for i := range n {
		child := node.Child(i)
		if child == nil {
			continue
		}
		cs := span{child.StartByte(), child.EndByte()}
		switch {
		case cs.len() > limit && child.ChildCount() > 0:
			if cur.len() > 0 {
				out = append(out, cur)
			}
			out = append(out, c.split(child)...)
			cur = span{cs.end, cs.end}
		case cs.end-cur.start > limit && cur.len() > 0:
			out = append(out, cur)
			cur = cs
		default:
			cur.end = cs.end
		}
	}
	if cur.len() > 0 {
		out = append(out, cur)
	}
	return out
}

// coalesce folds spans with fewer than min non-whitespace bytes into the
// following span. A short trailing span joins its predecessor.
func coalesce(spans []span, src []byte, minChars int) []span {
	if minChars <= 0 || len(spans) < 2 {
		return spans
	}
	var out []span
	cur := spans[0]
	for _, s := range spans[1:] {
		if nonSpace(src[cur.start:cur.end]) < minChars {
			cur.end = s.end
			continue
		}
		out = append(out, cur)
		cur = s
	}
	if len(out) > 0 && nonSpace(src[cur.start:cur.end]) < minChars {
		out[len(out)-1].end = cur.end
	} else {
		out = append(out, cur)
	}
	return out
}

func nonSpace(b []byte) int {
	n := 0
	for _, r := range string(b) {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// toSnippets converts byte spans into disjoint line ranges. A span starting
// mid-line begins at that line, so the previous chunk gives it up.
func toSnippets(path, content string, spans []span) []snippet.Snippet {
	total := snippet.LineCount(content)
	starts := lineStarts(content)
	lineOf := func(off uint32) int {
		return sort.Search(len(starts), func(i int) bool { return starts[i] > int(off) }) - 1
	}

	bounds := []int{0}
	for _, s := range spans[1:] {
		l := min(lineOf(s.start), total)
		if l > bounds[len(bounds)-1] {
			bounds = append(bounds, l)
		}
	}
	if bounds[len(bounds)-1] < total {
		bounds = append(bounds, total)
	}

	lines := snippet.SplitLines(content)
	out := make([]snippet.Snippet, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		if strings.TrimSpace(strings.Join(lines[start:end], "\n")) == "" {
			continue
		}
		out = append(out, snippet.Snippet{Content: content, Start: start, End: end, FilePath: path})
	}
	return out
}

// lineStarts returns the byte offset at which each line begins.
func lineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' && i+1 < len(content) {
			starts = append(starts, i+1)
		}
	}
	return starts
}
