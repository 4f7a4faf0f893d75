package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/repoctx/internal/cache"
	"github.com/fyrsmithlabs/repoctx/internal/embeddings"
	"github.com/fyrsmithlabs/repoctx/internal/lexical"
	"github.com/fyrsmithlabs/repoctx/internal/logging"
	"github.com/fyrsmithlabs/repoctx/internal/refine"
	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/snippet"
	"github.com/fyrsmithlabs/repoctx/internal/telemetry"
	"github.com/fyrsmithlabs/repoctx/internal/vectorstore"
)

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func openDir(t *testing.T, files map[string]string) repository.Repo {
	t.Helper()
	repo, err := repository.OpenDir(writeRepo(t, files))
	require.NoError(t, err)
	return repo
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Refine.RetryBackoff = time.Millisecond
	cfg.Refine.CallTimeout = time.Second
	cfg.Refine.WallClock = 10 * time.Second
	return cfg
}

func vectorDeps(t *testing.T, provider embeddings.Provider) Deps {
	t.Helper()
	client := embeddings.NewClient(provider, cache.NewMemory(), embeddings.ClientConfig{
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = client.Close() })

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return Deps{Embedder: client, Store: store}
}

func newPipeline(t *testing.T, cfg Config, deps Deps) *Pipeline {
	t.Helper()
	p, err := New(cfg, deps, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func paths(snips []snippet.Snippet) []string {
	out := make([]string, len(snips))
	for i, s := range snips {
		out[i] = s.FilePath
	}
	return out
}

func TestRetrieve_FindsSnakeCaseFunction(t *testing.T) {
	repo := openDir(t, map[string]string{
		"foo.py": "def compute_total(items):\n    return sum(items)\n",
	})
	p := newPipeline(t, testConfig(), vectorDeps(t, embeddings.NewHashProvider(64)))

	res, err := p.Retrieve(context.Background(), Request{Query: "compute_total function", Repo: repo})
	require.NoError(t, err)

	assert.False(t, res.Empty)
	assert.False(t, res.LexicalOnly)
	require.NotEmpty(t, res.Snippets)
	assert.Equal(t, "foo.py", res.Snippets[0].FilePath)
	assert.Greater(t, res.Scores[res.Snippets[0].Denotation()], 0.0)
	assert.NotEmpty(t, res.ID)
	assert.Contains(t, res.Tree, "foo.py")
	assert.Nil(t, res.Refinement)
}

func TestRetrieve_TestsDirectoryPenalty(t *testing.T) {
	body := "def frobnicate(widget):\n    return widget.spin()\n"
	repo := openDir(t, map[string]string{
		"foo.py":            body,
		"tests/test_foo.py": body,
	})
	p := newPipeline(t, testConfig(), Deps{})

	res, err := p.Retrieve(context.Background(), Request{Query: "frobnicate", Repo: repo})
	require.NoError(t, err)
	require.Len(t, res.Snippets, 2)

	assert.Equal(t, []string{"foo.py", "tests/test_foo.py"}, paths(res.Snippets))
	foo := res.Scores[res.Snippets[0].Denotation()]
	test := res.Scores[res.Snippets[1].Denotation()]
	assert.Less(t, test, foo)
	assert.InDelta(t, 0.25, foo-test, 1e-9)
}

type failingProvider struct{}

var errProviderDown = errors.New("provider down")

func (failingProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errProviderDown
}
func (failingProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errProviderDown
}
func (failingProvider) Dimension() int { return 8 }
func (failingProvider) Model() string  { return "down" }
func (failingProvider) Close() error   { return nil }

func TestRetrieve_EmbeddingFailureFallsBackToLexical(t *testing.T) {
	repo := openDir(t, map[string]string{
		"foo.py": "def compute_total(items):\n    return sum(items)\n",
		"bar.py": "def render(page):\n    return page.html\n",
	})
	p := newPipeline(t, testConfig(), vectorDeps(t, failingProvider{}))

	res, err := p.Retrieve(context.Background(), Request{Query: "compute total", Repo: repo})
	require.NoError(t, err)

	assert.True(t, res.LexicalOnly)
	require.NotEmpty(t, res.Snippets)
	assert.Equal(t, "foo.py", res.Snippets[0].FilePath)
	assert.Greater(t, res.Scores[res.Snippets[0].Denotation()], res.Scores[res.Snippets[1].Denotation()])
}

func TestRetrieve_RecordsSpansAndQueryScopedLogs(t *testing.T) {
	repo := openDir(t, map[string]string{
		"foo.py": "def compute_total(items):\n    return sum(items)\n",
	})
	tel := telemetry.NewTestTelemetry()
	tl := logging.NewTestLogger()
	deps := vectorDeps(t, failingProvider{})
	deps.Tracer = tel.Tracer("retrieval-test")
	p, err := New(testConfig(), deps, tl.Logger)
	require.NoError(t, err)

	res, err := p.Retrieve(context.Background(), Request{Query: "compute total", Repo: repo})
	require.NoError(t, err)

	for _, name := range []string{"retrieval.Retrieve", "retrieval.scan", "retrieval.lexical_index", "retrieval.vectors"} {
		tel.AssertSpanExists(t, name)
	}
	tel.AssertSpanAttribute(t, "retrieval.Retrieve", "outcome", "lexical_only")
	tel.AssertSpanAttribute(t, "retrieval.Retrieve", "query.id", res.ID)
	tel.AssertSpanAttribute(t, "retrieval.lexical_index", "cache_hit", false)

	tl.AssertLogged(t, zapcore.WarnLevel, "vector scoring failed")
	tl.AssertField(t, "retrieval finished", "query.id", res.ID)
	tl.AssertHasField(t, "retrieval finished", "trace_id")
}

func TestRetrieve_EmptyRepository(t *testing.T) {
	repo := openDir(t, map[string]string{
		"blob.bin": "\x00\x01\x02",
	})
	p := newPipeline(t, testConfig(), Deps{})

	res, err := p.Retrieve(context.Background(), Request{Query: "anything", Repo: repo})
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Empty(t, res.Snippets)
	assert.Len(t, res.Skipped, 1)
}

func TestRetrieve_RequiresRepository(t *testing.T) {
	p := newPipeline(t, testConfig(), Deps{})
	_, err := p.Retrieve(context.Background(), Request{Query: "x"})
	assert.ErrorIs(t, err, ErrNoRepository)
}

func TestRetrieve_Canceled(t *testing.T) {
	repo := openDir(t, map[string]string{"foo.py": "x = 1\n"})
	p := newPipeline(t, testConfig(), Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Retrieve(ctx, Request{Query: "x", Repo: repo})
	assert.ErrorIs(t, err, context.Canceled)
}

func numberedLines(n int) string {
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, "value_%d = %d\n", i, i)
	}
	return b.String()
}

func storeCall(path string, start, end int) string {
	return fmt.Sprintf(`<tool name="store_snippet"><param name="path">%s</param><param name="start">%d</param><param name="end">%d</param></tool>`, path, start, end)
}

func TestRetrieve_RefinementMergesOverlappingSelections(t *testing.T) {
	repo := openDir(t, map[string]string{
		"bar.py":       numberedLines(25),
		"repoctx.yaml": "scan:\n  max_file_size: 1000\n",
	})
	ctrl := refine.NewScriptedController(
		refine.Say(storeCall("bar.py", 0, 10)+storeCall("bar.py", 8, 20)+storeCall("repoctx.yaml", 0, 1)),
		refine.Say(`<tool name="submit"/>`),
	)
	p := newPipeline(t, testConfig(), Deps{Controller: ctrl})

	res, err := p.Retrieve(context.Background(), Request{Query: "value_9", Repo: repo})
	require.NoError(t, err)

	require.NotNil(t, res.Refinement)
	assert.Equal(t, refine.StateFinalized, res.Refinement.State)
	require.Len(t, res.Snippets, 1)
	assert.Equal(t, "bar.py:0-20", res.Snippets[0].Denotation())
	assert.Contains(t, res.Scores, "bar.py:0-20")
}

func TestRetrieve_AbortedRefinementKeepsInitialRanking(t *testing.T) {
	repo := openDir(t, map[string]string{
		"foo.py": "def compute_total(items):\n    return sum(items)\n",
	})
	ctrl := refine.NewScriptedController(refine.Say("hmm"), refine.Say("?"), refine.Say("done"))
	p := newPipeline(t, testConfig(), Deps{Controller: ctrl})

	res, err := p.Retrieve(context.Background(), Request{Query: "compute_total", Repo: repo})
	require.NoError(t, err)

	require.NotNil(t, res.Refinement)
	assert.Equal(t, refine.StateAborted, res.Refinement.State)
	assert.Equal(t, refine.ReasonBadCalls, res.Refinement.Reason)
	assert.Equal(t, []string{"foo.py"}, paths(res.Snippets))
}

func TestRetrieve_AbortedRefinementDropsConfigFile(t *testing.T) {
	repo := openDir(t, map[string]string{
		"repoctx.yaml": "scan:\n  max_file_size: 1000\n",
		"foo.py":       "def frobnicate(x):\n    return x\n",
	})
	ctrl := refine.NewScriptedController(refine.Say("nonsense"), refine.Say("nonsense"), refine.Say("nonsense"))
	p := newPipeline(t, testConfig(), Deps{Controller: ctrl})

	res, err := p.Retrieve(context.Background(), Request{Query: "frobnicate", Repo: repo})
	require.NoError(t, err)

	require.NotNil(t, res.Refinement)
	assert.Equal(t, refine.StateAborted, res.Refinement.State)
	assert.Equal(t, []string{"foo.py"}, paths(res.Snippets))
}

func TestRetrieve_SkipRefine(t *testing.T) {
	repo := openDir(t, map[string]string{"foo.py": "x = 1\n"})
	ctrl := refine.NewScriptedController()
	p := newPipeline(t, testConfig(), Deps{Controller: ctrl})

	res, err := p.Retrieve(context.Background(), Request{Query: "x", Repo: repo, SkipRefine: true})
	require.NoError(t, err)
	assert.Nil(t, res.Refinement)
	assert.Zero(t, ctrl.Calls())
}

func TestRetrieve_SearchCodebaseTool(t *testing.T) {
	repo := openDir(t, map[string]string{
		"foo.py": "def compute_total(items):\n    return sum(items)\n",
		"bar.py": "def render(page):\n    return page.html\n",
	})
	ctrl := refine.NewScriptedController(
		refine.Say(`<tool name="search_codebase"><param name="query">render page</param></tool>`),
		refine.Say(`<tool name="submit"/>`),
	)
	p := newPipeline(t, testConfig(), vectorDeps(t, embeddings.NewHashProvider(64)))
	p.controller = ctrl

	_, err := p.Retrieve(context.Background(), Request{Query: "compute_total", Repo: repo})
	require.NoError(t, err)

	transcripts := ctrl.Transcripts()
	require.Len(t, transcripts, 2)
	feedback := transcripts[1][len(transcripts[1])-1].Content
	assert.Contains(t, feedback, "1. bar.py:0-2")
}

func TestRetrieve_CachesIndexBySnapshot(t *testing.T) {
	root := writeRepo(t, map[string]string{
		"foo.py": "def compute_total(items):\n    return sum(items)\n",
	})
	g, err := git.PlainInit(root, false)
	require.NoError(t, err)
	wt, err := g.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	sig := &object.Signature{Name: "Dev", Email: "dev@example.com", When: time.Now().Add(-time.Hour)}
	_, err = wt.Commit("init", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	repo, err := repository.Open(root)
	require.NoError(t, err)

	indexes, err := lexical.NewCache(2)
	require.NoError(t, err)
	p := newPipeline(t, testConfig(), Deps{Indexes: indexes})

	for range 2 {
		res, err := p.Retrieve(context.Background(), Request{Query: "compute_total", Repo: repo})
		require.NoError(t, err)
		assert.Equal(t, []string{"foo.py"}, paths(res.Snippets))
	}
	assert.Equal(t, 1, indexes.Len())
}

func TestCollectionFor(t *testing.T) {
	assert.Equal(t, "snap_0123456789abcdef", collectionFor("/src", "0123456789abcdef0123"))
	a, b := collectionFor("/src/a", ""), collectionFor("/src/b", "")
	assert.NotEqual(t, a, b)
	require.NoError(t, vectorstore.ValidateCollectionName(a))
}

func TestIndexKey(t *testing.T) {
	s1 := []snippet.Snippet{{FilePath: "a.py", Start: 0, End: 3}}
	s2 := []snippet.Snippet{{FilePath: "a.py", Start: 0, End: 4}}
	assert.Empty(t, indexKey("", s1))
	assert.NotEqual(t, indexKey("abc", s1), indexKey("abc", s2))
	assert.Equal(t, indexKey("abc", s1), indexKey("abc", s1))
}
