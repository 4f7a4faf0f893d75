package retrieval

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/repoctx/internal/chunker"
	"github.com/fyrsmithlabs/repoctx/internal/contextmgr"
	"github.com/fyrsmithlabs/repoctx/internal/embeddings"
	"github.com/fyrsmithlabs/repoctx/internal/heuristic"
	"github.com/fyrsmithlabs/repoctx/internal/lexical"
	"github.com/fyrsmithlabs/repoctx/internal/logging"
	"github.com/fyrsmithlabs/repoctx/internal/postprocess"
	"github.com/fyrsmithlabs/repoctx/internal/ranking"
	"github.com/fyrsmithlabs/repoctx/internal/refine"
	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/snippet"
	"github.com/fyrsmithlabs/repoctx/internal/vectorstore"
)

var (
	// ErrNoRepository is returned when a request has no repository.
	ErrNoRepository = errors.New("retrieval: repository required")

	errVectorDisabled = errors.New("vector search not configured")
)

const instrumentationName = "github.com/fyrsmithlabs/repoctx/internal/retrieval"

// LexicalConfig tunes the lexical index.
type LexicalConfig struct {
	K1            float64 `koanf:"k1"`
	B             float64 `koanf:"b"`
	Floor         float64 `koanf:"floor"`
	TitleBoost    float64 `koanf:"title_boost"`
	StopwordCount int     `koanf:"stopword_count"`
	// CacheSize is the number of snapshot indexes kept in memory.
	CacheSize int `koanf:"cache_size"`
}

// DefaultLexicalConfig returns the default index settings.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		K1:            lexical.DefaultK1,
		B:             lexical.DefaultB,
		Floor:         lexical.DefaultFloor,
		TitleBoost:    lexical.DefaultTitleBoost,
		StopwordCount: lexical.DefaultStopwordCount,
		CacheSize:     lexical.DefaultCacheSize,
	}
}

func (c LexicalConfig) options() []lexical.Option {
	var opts []lexical.Option
	if c.K1 > 0 && c.B >= 0 {
		opts = append(opts, lexical.WithBM25(c.K1, c.B))
	}
	if c.Floor > 0 {
		opts = append(opts, lexical.WithFloor(c.Floor))
	}
	if c.TitleBoost > 0 {
		opts = append(opts, lexical.WithTitleBoost(c.TitleBoost))
	}
	if c.StopwordCount > 0 {
		opts = append(opts, lexical.WithStopwordCount(c.StopwordCount))
	}
	return opts
}

// Config collects the settings of every pipeline stage.
type Config struct {
	Scan        repository.Options
	Chunker     chunker.Config
	Lexical     LexicalConfig
	Heuristic   heuristic.Config
	Ranking     ranking.Config
	Postprocess postprocess.Config
	Refine      refine.Config
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		Scan:        repository.DefaultOptions(),
		Chunker:     chunker.DefaultConfig(),
		Lexical:     DefaultLexicalConfig(),
		Heuristic:   heuristic.DefaultConfig(),
		Ranking:     ranking.DefaultConfig(),
		Postprocess: postprocess.DefaultConfig(),
		Refine:      refine.DefaultConfig(),
	}
}

// Deps are the pipeline's collaborators. Embedder and Store are optional;
// without both, ranking is lexical-only. Controller is optional; without
// it the refinement loop is skipped.
type Deps struct {
	Embedder   *embeddings.Client
	Store      vectorstore.Store
	Controller refine.Controller
	// Indexes caches lexical indexes across queries. Nil creates one.
	Indexes *lexical.Cache
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Pipeline answers retrieval requests. It is safe for concurrent use;
// each Retrieve call owns its own context manager.
type Pipeline struct {
	cfg        Config
	scanner    *repository.Scanner
	processor  *postprocess.Processor
	indexes    *lexical.Cache
	embedder   *embeddings.Client
	store      vectorstore.Store
	controller refine.Controller
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Pipeline.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	indexes := deps.Indexes
	if indexes == nil {
		var err error
		if indexes, err = lexical.NewCache(cfg.Lexical.CacheSize); err != nil {
			return nil, err
		}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	ch := chunker.New(cfg.Chunker, logger.Named("chunker"))
	return &Pipeline{
		cfg:        cfg,
		scanner:    repository.NewScanner(ch, logger.Named("scanner")),
		processor:  postprocess.New(cfg.Postprocess, ch, logger.Named("postprocess")),
		indexes:    indexes,
		embedder:   deps.Embedder,
		store:      deps.Store,
		controller: deps.Controller,
		tracer:     tracer,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Request is one retrieval query.
type Request struct {
	// Query is the problem statement.
	Query string
	Repo  repository.Repo
	// SkipRefine disables the refinement loop for this request.
	SkipRefine bool
}

// Result is the outcome of a retrieval.
type Result struct {
	// ID identifies the retrieval in logs.
	ID string
	// Snippets is the final ordered selection.
	Snippets []snippet.Snippet
	// Scores maps denotations to fused scores. Every entry of Snippets
	// has one.
	Scores map[string]float64
	// Ranked is the full fused ranking before post-processing.
	Ranked []snippet.Snippet
	// Tree renders the directory view at the end of the retrieval.
	Tree string
	// Empty reports that the repository had nothing to index.
	Empty bool
	// LexicalOnly reports that vector scores were unavailable.
	LexicalOnly bool
	// Refinement is the loop outcome, nil when the loop did not run.
	Refinement *refine.Result
	// Skipped lists files the scanner could not use.
	Skipped  []*repository.ScanError
	Duration time.Duration
	// Manager holds the final retrieval state.
	Manager *contextmgr.Manager
}

// Retrieve runs the pipeline for req. Only an unreadable repository, a
// failed index build or cancellation is an error; an empty repository
// yields a Result with Empty set.
func (p *Pipeline) Retrieve(ctx context.Context, req Request) (res *Result, err error) {
	if req.Repo == nil {
		return nil, ErrNoRepository
	}
	start := p.now()
	id := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, "retrieval.Retrieve", trace.WithAttributes(
		attribute.String("query.id", id),
		attribute.String("repo.root", req.Repo.Root()),
		attribute.Int("query.length", len(req.Query)),
	))
	ctx = logging.WithQueryID(ctx, id)
	logger := p.logger.With(logging.ContextFields(ctx)...)

	defer func() {
		outcome := outcomeOK
		switch {
		case err != nil:
			outcome = outcomeError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Empty:
			outcome = outcomeEmpty
		case res.LexicalOnly:
			outcome = outcomeLexicalOnly
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		RetrievalsTotal.WithLabelValues(outcome).Inc()
		RetrievalDuration.Observe(time.Since(start).Seconds())
	}()

	scanCtx, scanSpan := p.tracer.Start(ctx, "retrieval.scan")
	scan, err := p.scanner.Scan(scanCtx, req.Repo, p.cfg.Scan)
	if err == nil {
		scanSpan.SetAttributes(
			attribute.Int("files", len(scan.Files)),
			attribute.Int("snippets", len(scan.Snippets)),
		)
	}
	scanSpan.End()
	if err != nil {
		return nil, fmt.Errorf("scanning repository: %w", err)
	}
	SnippetsScanned.Observe(float64(len(scan.Snippets)))
	res = &Result{ID: id, Skipped: scan.Skipped, Scores: map[string]float64{}}

	if len(scan.Snippets) == 0 {
		res.Empty = true
		res.Duration = time.Since(start)
		logger.Info("no indexable snippets",
			zap.String("root", req.Repo.Root()),
			zap.Int("skipped", len(scan.Skipped)),
		)
		return res, nil
	}

	stats, err := heuristic.Collect(ctx, req.Repo, scan.Files, logger)
	if err != nil {
		return nil, fmt.Errorf("collecting file statistics: %w", err)
	}
	heur := heuristic.Score(stats, p.now(), p.cfg.Heuristic)

	sha, err := req.Repo.HeadCommitSHA()
	if err != nil {
		logger.Warn("reading head commit, snapshot caching disabled", zap.Error(err))
		sha = ""
	}
	collection := collectionFor(req.Repo.Root(), sha)
	var (
		index  *lexical.Index
		vector map[string]float64
		vecErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, span := p.tracer.Start(gctx, "retrieval.lexical_index")
		defer span.End()
		var hit bool
		var err error
		index, hit, err = p.indexes.GetOrBuild(indexKey(sha, scan.Snippets), func() (*lexical.Index, error) {
			return lexical.FromSnippets(scan.Snippets, p.cfg.Lexical.options()...)
		})
		if err != nil {
			return fmt.Errorf("building lexical index: %w", err)
		}
		span.SetAttributes(attribute.Bool("cache_hit", hit))
		if hit {
			IndexCacheLookups.WithLabelValues("hit").Inc()
		} else {
			IndexCacheLookups.WithLabelValues("miss").Inc()
		}
		return nil
	})
	g.Go(func() error {
		vctx, span := p.tracer.Start(gctx, "retrieval.vectors", trace.WithAttributes(
			attribute.String("collection", collection),
		))
		defer span.End()
		vector, vecErr = p.populate(vctx, collection, req.Query, scan.Snippets, heur)
		if vecErr != nil && !errors.Is(vecErr, errVectorDisabled) {
			span.RecordError(vecErr)
			span.SetStatus(codes.Error, vecErr.Error())
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vecErr != nil {
		res.LexicalOnly = true
		if !errors.Is(vecErr, errVectorDisabled) {
			logger.Warn("vector scoring failed, ranking lexically", zap.Error(vecErr))
		}
	}

	lex := index.Search(req.Query, lexical.KeyByID)
	ranked, scores := ranking.Fuse(ranking.Inputs{
		Snippets:  scan.Snippets,
		Lexical:   lex,
		Vector:    vector,
		Heuristic: heur,
	}, p.cfg.Ranking)
	initial, scores := p.processor.Process(ranked, scores)

	mgr := contextmgr.New(contextmgr.Params{
		Query:  req.Query,
		Repo:   req.Repo,
		Files:  scan.Files,
		Ranked: ranked,
		Top:    initial,
		Scores: scores,
	})
	res.Ranked = ranked
	res.Manager = mgr

	if p.controller != nil && !req.SkipRefine {
		searcher := &codebaseSearcher{
			pipeline:   p,
			index:      index,
			snippets:   scan.Snippets,
			heuristic:  heur,
			collection: collection,
			vectors:    vecErr == nil,
			logger:     logger,
		}
		loop := refine.NewLoop(p.controller, searcher, p.cfg.Refine, logger.Named("refine"))
		rctx, rspan := p.tracer.Start(ctx, "retrieval.refine")
		out, err := loop.Run(rctx, mgr)
		if out != nil {
			rspan.SetAttributes(
				attribute.String("state", out.State.String()),
				attribute.Int("iterations", out.Iterations),
				attribute.Int("bad_calls", out.BadCalls),
			)
		}
		rspan.End()
		if err != nil {
			return nil, fmt.Errorf("running refinement: %w", err)
		}
		res.Refinement = out
		if len(out.Snippets) == 0 && out.State == refine.StateAborted {
			logger.Warn("refinement aborted without a selection, keeping initial ranking",
				zap.String("reason", out.Reason))
			mgr.SetTopSnippets(initial)
			loop.DropExcluded(mgr)
		}
		mgr.Sort()
	}

	res.Snippets = mgr.TopSnippets()
	res.Scores = mgr.Scores()
	for _, s := range res.Snippets {
		d := s.Denotation()
		if _, ok := res.Scores[d]; !ok {
			res.Scores[d] = mgr.Score(d)
		}
	}
	res.Tree = mgr.RenderTree()
	res.Duration = time.Since(start)

	logger.Info("retrieval finished",
		zap.Int("files", len(scan.Files)),
		zap.Int("snippets", len(scan.Snippets)),
		zap.Int("lexical_hits", len(lex)),
		zap.Bool("lexical_only", res.LexicalOnly),
		zap.Int("selected", len(res.Snippets)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// populate embeds snippets into the snapshot's collection and returns the
// query's similarity to each of them, keyed by denotation.
func (p *Pipeline) populate(ctx context.Context, collection, query string, snips []snippet.Snippet, heur map[string]float64) (map[string]float64, error) {
	if p.embedder == nil || p.store == nil {
		return nil, errVectorDisabled
	}

	texts := make([]string, len(snips))
	for i, s := range snips {
		texts[i] = embedText(s)
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	records := make([]vectorstore.Record, len(snips))
	for i, s := range snips {
		records[i] = vectorstore.Record{
			ID:        s.Denotation(),
			Embedding: vectors[i],
			Metadata: vectorstore.Metadata{
				FilePath:       s.FilePath,
				Start:          s.Start,
				End:            s.End,
				HeuristicScore: heur[s.FilePath],
			},
		}
	}
	if err := p.store.Upsert(ctx, collection, records); err != nil {
		return nil, fmt.Errorf("upserting vectors: %w", err)
	}
	// Records of an earlier scan of the same snapshot linger after
	// upsert; rebuild the collection when there are any.
	if n, err := p.store.Count(ctx, collection); err == nil && n > len(records) {
		if err := p.store.DeleteCollection(ctx, collection); err != nil {
			return nil, fmt.Errorf("resetting collection: %w", err)
		}
		if err := p.store.Upsert(ctx, collection, records); err != nil {
			return nil, fmt.Errorf("upserting vectors: %w", err)
		}
	}
	return p.similarity(ctx, collection, query, len(records))
}

// similarity returns the k nearest snippets to query.
func (p *Pipeline) similarity(ctx context.Context, collection, query string, k int) (map[string]float64, error) {
	out := map[string]float64{}
	if strings.TrimSpace(query) == "" {
		return out, nil
	}
	qv, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	matches, err := p.store.Search(ctx, collection, qv, k)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	for _, m := range matches {
		s := float64(m.Score)
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		out[m.ID] = s
	}
	return out, nil
}

// embedText is the text embedded for a snippet: its path then its lines.
func embedText(s snippet.Snippet) string {
	return s.FilePath + "\n" + s.Text()
}

// collectionFor names the vector collection of a repository snapshot.
// Repositories without history are keyed by their root.
func collectionFor(root, sha string) string {
	if sha != "" {
		return vectorstore.CollectionName(sha)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(root))
	return vectorstore.CollectionName(strconv.FormatUint(h.Sum64(), 16))
}

// indexKey identifies a lexical index: the head commit plus the scanned
// snippet layout. An empty sha disables caching.
func indexKey(sha string, snips []snippet.Snippet) string {
	if sha == "" {
		return ""
	}
	h := fnv.New64a()
	for _, s := range snips {
		_, _ = h.Write([]byte(s.Denotation()))
		_, _ = h.Write([]byte{0})
	}
	return sha + ":" + strconv.FormatUint(h.Sum64(), 16)
}
