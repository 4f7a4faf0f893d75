// Package postprocess shapes a ranked snippet list for a downstream
// consumer: it widens the best files' snippets, merges overlaps and cuts
// the list to a count and character budget.
package postprocess

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// Defaults.
const (
	DefaultExpandTopFiles  = 3
	DefaultFineChunkLines  = 20
	DefaultExpandNeighbors = 2
	DefaultMaxSnippets     = 15
	DefaultMaxChars        = 60000
)

// Config controls post-processing.
type Config struct {
	ExpandTopFiles  int `koanf:"expand_top_files"`
	FineChunkLines  int `koanf:"fine_chunk_lines"`
	ExpandNeighbors int `koanf:"expand_neighbors"`
	MaxSnippets     int `koanf:"max_snippets"`
	MaxChars        int `koanf:"max_chars"`
}

// DefaultConfig returns the default post-processing settings.
func DefaultConfig() Config {
	return Config{
		ExpandTopFiles:  DefaultExpandTopFiles,
		FineChunkLines:  DefaultFineChunkLines,
		ExpandNeighbors: DefaultExpandNeighbors,
		MaxSnippets:     DefaultMaxSnippets,
		MaxChars:        DefaultMaxChars,
	}
}

// FineChunker re-chunks a file into small consecutive windows.
type FineChunker interface {
	Fine(path, content string, lines int) []snippet.Snippet
}

// Processor runs expansion, fusion and truncation.
type Processor struct {
	cfg     Config
	chunker FineChunker
	logger  *zap.Logger
}

// New creates a Processor. A nil chunker disables expansion.
func New(cfg Config, chunker FineChunker, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, chunker: chunker, logger: logger}
}

// Process expands, fuses and truncates ranked. It returns the resulting
// list and a score map covering the new denotations. Inputs are not
// modified.
func (p *Processor) Process(ranked []snippet.Snippet, scores map[string]float64) ([]snippet.Snippet, map[string]float64) {
	out := make([]snippet.Snippet, len(ranked))
	copy(out, ranked)
	sc := make(map[string]float64, len(scores))
	for k, v := range scores {
		sc[k] = v
	}

	if p.chunker != nil && p.cfg.ExpandTopFiles > 0 {
		out = Expand(out, sc, p.chunker, p.cfg)
	}
	before := len(out)
	out = Fuse(out, sc)
	out = Truncate(out, p.cfg.MaxSnippets, p.cfg.MaxChars)

	p.logger.Debug("post-processed snippets",
		zap.Int("input", len(ranked)),
		zap.Int("fused", before-len(out)),
		zap.Int("output", len(out)),
	)
	return out, sc
}

// Expand widens the highest-ranked snippet of each of the top
// cfg.ExpandTopFiles files. The file is re-chunked into windows of
// cfg.FineChunkLines; the window holding the snippet's first line and up to
// cfg.ExpandNeighbors windows on each side replace the snippet, which never
// shrinks and keeps its score. scores gains the new denotations.
func Expand(ranked []snippet.Snippet, scores map[string]float64, chunker FineChunker, cfg Config) []snippet.Snippet {
	if cfg.FineChunkLines <= 0 {
		cfg.FineChunkLines = DefaultFineChunkLines
	}
	if cfg.ExpandNeighbors < 0 {
		cfg.ExpandNeighbors = 0
	}

	expanded := make(map[string]bool)
	for i, s := range ranked {
		if len(expanded) >= cfg.ExpandTopFiles {
			break
		}
		if expanded[s.FilePath] {
			continue
		}
		expanded[s.FilePath] = true

		fine := chunker.Fine(s.FilePath, s.Content, cfg.FineChunkLines)
		at := -1
		for j, f := range fine {
			if f.Start <= s.Start && s.Start < f.End {
				at = j
				break
			}
		}
		if at < 0 {
			continue
		}
		lo := max(at-cfg.ExpandNeighbors, 0)
		hi := min(at+cfg.ExpandNeighbors, len(fine)-1)

		grown := s
		grown.Start = min(s.Start, fine[lo].Start)
		grown.End = max(s.End, fine[hi].End)
		if grown.Denotation() == s.Denotation() {
			continue
		}
		scores[grown.Denotation()] = max(scores[grown.Denotation()], scores[s.Denotation()])
		ranked[i] = grown
	}
	return ranked
}

// Fuse merges overlapping or touching snippets of the same file until no
// such pair remains. A merged snippet takes the earlier position and the
// higher score, recorded in scores under its denotation. Fuse reuses
// ranked's backing array.
func Fuse(ranked []snippet.Snippet, scores map[string]float64) []snippet.Snippet {
	out := ranked
	for merged := true; merged; {
		merged = false
	scan:
		for i := 0; i < len(out); i++ {
			for j := i + 1; j < len(out); j++ {
				u, err := out[i].Union(out[j])
				if err != nil {
					continue
				}
				score := max(scores[out[i].Denotation()], scores[out[j].Denotation()])
				scores[u.Denotation()] = max(scores[u.Denotation()], score)
				out[i] = u
				out = append(out[:j], out[j+1:]...)
				merged = true
				break scan
			}
		}
	}
	return out
}

// Truncate keeps at most maxSnippets snippets, stopping before the total
// text length would exceed maxChars. The first snippet is always kept.
// Non-positive limits are ignored.
func Truncate(ranked []snippet.Snippet, maxSnippets, maxChars int) []snippet.Snippet {
	if maxSnippets > 0 && len(ranked) > maxSnippets {
		ranked = ranked[:maxSnippets]
	}
	if maxChars <= 0 {
		return ranked
	}
	total := 0
	for i, s := range ranked {
		total += len(s.Text())
		if total > maxChars && i > 0 {
			return ranked[:i]
		}
	}
	return ranked
}
