// Package ranking fuses lexical, vector and heuristic scores into one
// ranking of snippets.
package ranking

import (
	"sort"

	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// Defaults.
const (
	DefaultVectorWeight = 3.5
	// DefaultLexicalFloor is the fraction of VectorWeight credited to a
	// snippet the lexical index did not match.
	DefaultLexicalFloor = 0.04
)

// Config weights the score sources.
type Config struct {
	VectorWeight float64     `koanf:"vector_weight"`
	LexicalFloor float64     `koanf:"lexical_floor"`
	Adjustments  Adjustments `koanf:"adjustments"`
}

// DefaultConfig returns the default weights and adjustment rules.
func DefaultConfig() Config {
	return Config{
		VectorWeight: DefaultVectorWeight,
		LexicalFloor: DefaultLexicalFloor,
		Adjustments:  DefaultAdjustments(),
	}
}

// Inputs are the per-source scores for one query.
type Inputs struct {
	// Snippets in scan order.
	Snippets []snippet.Snippet
	// Lexical scores keyed by denotation, in [0, 1].
	Lexical map[string]float64
	// Vector similarities keyed by denotation.
	Vector map[string]float64
	// Heuristic scores keyed by file path.
	Heuristic map[string]float64
}

// Combined returns the fused score of s before path adjustments.
func (c Config) Combined(s snippet.Snippet, in Inputs) float64 {
	d := s.Denotation()
	lex, ok := in.Lexical[d]
	if !ok {
		lex = c.LexicalFloor * c.VectorWeight
	}
	return lex + in.Vector[d]*c.VectorWeight + in.Heuristic[s.FilePath]
}

// Fuse scores every snippet, applies path adjustments, and returns the
// snippets sorted by descending score with the score map keyed by
// denotation. Equal scores keep scan order. Duplicate denotations keep
// their first occurrence.
func Fuse(in Inputs, cfg Config) ([]snippet.Snippet, map[string]float64) {
	scores := make(map[string]float64, len(in.Snippets))
	ranked := make([]snippet.Snippet, 0, len(in.Snippets))
	for _, s := range in.Snippets {
		d := s.Denotation()
		if _, dup := scores[d]; dup {
			continue
		}
		scores[d] = cfg.Combined(s, in) + cfg.Adjustments.Delta(s.FilePath)
		ranked = append(ranked, s)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].Denotation()] > scores[ranked[j].Denotation()]
	})
	return ranked, scores
}
