package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/redact"
	"github.com/fyrsmithlabs/repoctx/internal/refine"
	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/retrieval"
	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

type fakeRetriever struct {
	mu   sync.Mutex
	reqs []retrieval.Request
	res  *retrieval.Result
	err  error
}

func (f *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

type fakeScrubber struct{}

func (fakeScrubber) Redact(text string) (string, []redact.Finding) {
	n := strings.Count(text, "hunter2")
	findings := make([]redact.Finding, n)
	return strings.ReplaceAll(text, "hunter2", "[REDACTED]"), findings
}

const fileContent = "package auth\n\nconst password = \"hunter2\"\n\nfunc Login() {}\n"

func testResult() *retrieval.Result {
	s := snippet.Snippet{FilePath: "auth/login.go", Content: fileContent, Start: 0, End: 3}
	return &retrieval.Result{
		ID:       "q-1",
		Snippets: []snippet.Snippet{s},
		Scores:   map[string]float64{s.Denotation(): 0.75},
		Refinement: &refine.Result{
			State:      refine.StateFinalized,
			Reason:     refine.ReasonSubmitted,
			Iterations: 2,
		},
		Skipped:  []*repository.ScanError{{Path: "bin/blob", Err: errors.New("binary")}},
		Duration: 1500 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, r Retriever, scrubber Scrubber, cfg *Config) *Server {
	t.Helper()
	opener := func(root string) (repository.Repo, error) { return repository.OpenDir(root) }
	s, err := NewServer(r, scrubber, zap.NewNop(), cfg, WithRepoOpener(opener))
	require.NoError(t, err)
	return s
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(&fakeRetriever{}, nil, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", s.config.Host)
		assert.Equal(t, 9090, s.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakeRetriever{}, nil, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when retriever is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retriever cannot be nil")
	})
}

func TestHandleRetrieve_DefaultOpener(t *testing.T) {
	fr := &fakeRetriever{res: testResult()}
	s, err := NewServer(fr, nil, zap.NewNop(), nil)
	require.NoError(t, err)

	root := t.TempDir()
	rec := postJSON(t, s, "/api/v1/retrieve", RetrieveRequest{Query: "login", RepoPath: root})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, fr.reqs, 1)
	assert.Equal(t, root, fr.reqs[0].Repo.Root())
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeRetriever{}, nil, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	s := newTestServer(t, &fakeRetriever{}, nil, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleRetrieve(t *testing.T) {
	t.Run("returns ranked snippets", func(t *testing.T) {
		fr := &fakeRetriever{res: testResult()}
		s := newTestServer(t, fr, nil, nil)
		root := t.TempDir()

		rec := postJSON(t, s, "/api/v1/retrieve", RetrieveRequest{Query: "login", RepoPath: root, SkipRefine: true})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "q-1", resp.ID)
		require.Len(t, resp.Snippets, 1)
		assert.Equal(t, "auth/login.go:0-3", resp.Snippets[0].Denotation)
		assert.InDelta(t, 0.75, resp.Snippets[0].Score, 1e-9)
		assert.Contains(t, resp.Snippets[0].Content, "hunter2")
		require.NotNil(t, resp.Refinement)
		assert.Equal(t, refine.StateFinalized.String(), resp.Refinement.State)
		assert.Equal(t, 2, resp.Refinement.Iterations)
		assert.Equal(t, []string{"bin/blob"}, resp.Skipped)
		assert.Equal(t, int64(1500), resp.DurationMS)

		require.Len(t, fr.reqs, 1)
		assert.Equal(t, "login", fr.reqs[0].Query)
		assert.True(t, fr.reqs[0].SkipRefine)
		assert.NotNil(t, fr.reqs[0].Repo)
	})

	t.Run("scrubs snippet content", func(t *testing.T) {
		s := newTestServer(t, &fakeRetriever{res: testResult()}, fakeScrubber{}, nil)
		rec := postJSON(t, s, "/api/v1/retrieve", RetrieveRequest{Query: "login", RepoPath: t.TempDir()})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RetrieveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Snippets, 1)
		assert.NotContains(t, resp.Snippets[0].Content, "hunter2")
		assert.Equal(t, 1, resp.Snippets[0].Redactions)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		s := newTestServer(t, &fakeRetriever{res: testResult()}, nil, nil)
		assert.Equal(t, http.StatusBadRequest, postJSON(t, s, "/api/v1/retrieve", RetrieveRequest{RepoPath: t.TempDir()}).Code)
		assert.Equal(t, http.StatusBadRequest, postJSON(t, s, "/api/v1/retrieve", RetrieveRequest{Query: "q"}).Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		s := newTestServer(t, &fakeRetriever{}, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieve", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("enforces allowed roots", func(t *testing.T) {
		allowed := t.TempDir()
		fr := &fakeRetriever{res: testResult()}
		s := newTestServer(t, fr, nil, &Config{Roots: []string{allowed}})

		rec := postJSON(t, s, "/api/v1/retrieve", RetrieveRequest{Query: "q", RepoPath: t.TempDir()})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, fr.reqs)

		rec = postJSON(t, s, "/api/v1/retrieve", RetrieveRequest{Query: "q", RepoPath: allowed})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("maps retrieval errors", func(t *testing.T) {
		s := newTestServer(t, &fakeRetriever{err: errors.New("index build failed")}, nil, nil)
		rec := postJSON(t, s, "/api/v1/retrieve", RetrieveRequest{Query: "q", RepoPath: t.TempDir()})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "index build failed")

		s = newTestServer(t, &fakeRetriever{err: context.DeadlineExceeded}, nil, nil)
		rec = postJSON(t, s, "/api/v1/retrieve", RetrieveRequest{Query: "q", RepoPath: t.TempDir()})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleScrub(t *testing.T) {
	t.Run("not served without a scrubber", func(t *testing.T) {
		s := newTestServer(t, &fakeRetriever{}, nil, nil)
		rec := postJSON(t, s, "/api/v1/scrub", ScrubRequest{Content: "x"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("scrubs content", func(t *testing.T) {
		s := newTestServer(t, &fakeRetriever{}, fakeScrubber{}, nil)
		rec := postJSON(t, s, "/api/v1/scrub", ScrubRequest{Content: "pw=hunter2 again hunter2"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ScrubResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "pw=[REDACTED] again [REDACTED]", resp.Content)
		assert.Equal(t, 2, resp.FindingsCount)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		s := newTestServer(t, &fakeRetriever{}, fakeScrubber{}, nil)
		assert.Equal(t, http.StatusBadRequest, postJSON(t, s, "/api/v1/scrub", ScrubRequest{}).Code)
	})
}

func TestServer_StartShutdown(t *testing.T) {
	s := newTestServer(t, &fakeRetriever{}, nil, &Config{Host: "127.0.0.1", Port: 0})
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.ErrorIs(t, <-errCh, http.ErrServerClosed)
}
