package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/lexical"
	"github.com/fyrsmithlabs/repoctx/internal/ranking"
	"github.com/fyrsmithlabs/repoctx/internal/refine"
	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// codebaseSearcher serves search_codebase calls of the refinement loop by
// re-running fusion for a new query over one retrieval's snippets.
type codebaseSearcher struct {
	pipeline   *Pipeline
	index      *lexical.Index
	snippets   []snippet.Snippet
	heuristic  map[string]float64
	collection string
	vectors    bool
	logger     *zap.Logger
}

// Search implements refine.Searcher. Only snippets matched lexically or
// by vector similarity are returned.
func (s *codebaseSearcher) Search(ctx context.Context, query string, limit int) ([]refine.SearchHit, error) {
	lex := s.index.Search(query, lexical.KeyByID)

	var vec map[string]float64
	if s.vectors {
		v, err := s.pipeline.similarity(ctx, s.collection, query, len(s.snippets))
		if err != nil {
			s.logger.Warn("codebase search without vectors", zap.Error(err))
		} else {
			vec = v
		}
	}

	ranked, scores := ranking.Fuse(ranking.Inputs{
		Snippets:  s.snippets,
		Lexical:   lex,
		Vector:    vec,
		Heuristic: s.heuristic,
	}, s.pipeline.cfg.Ranking)

	var hits []refine.SearchHit
	for _, sn := range ranked {
		d := sn.Denotation()
		if _, ok := lex[d]; !ok && vec[d] <= 0 {
			continue
		}
		hits = append(hits, refine.SearchHit{Snippet: sn, Score: scores[d]})
		if limit > 0 && len(hits) == limit {
			break
		}
	}
	return hits, nil
}
