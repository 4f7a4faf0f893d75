package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr error
	}{
		{name: "tei", cfg: ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "BAAI/bge-small-en-v1.5"}},
		{name: "tei missing url", cfg: ProviderConfig{Provider: "tei", Model: "m"}, wantErr: ErrInvalidConfig},
		{name: "openai", cfg: ProviderConfig{Provider: "openai", BaseURL: "http://localhost:9999/v1", Model: "text-embedding-3-small"}},
		{name: "openai missing model", cfg: ProviderConfig{Provider: "openai"}, wantErr: ErrInvalidConfig},
		{name: "hash", cfg: ProviderConfig{Provider: "hash", Dimension: 32}},
		{name: "unknown", cfg: ProviderConfig{Provider: "word2vec"}, wantErr: ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Greater(t, p.Dimension(), 0)
			assert.NoError(t, p.Close())
		})
	}
}

func TestDetectDimension(t *testing.T) {
	assert.Equal(t, 384, detectDimension("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 1536, detectDimension("text-embedding-3-small"))
	assert.Equal(t, 768, detectDimension("acme/code-base"))
	assert.Equal(t, 1024, detectDimension("acme/code-large"))
	assert.Equal(t, 384, detectDimension("unknown"))
}

func TestTEIProvider(t *testing.T) {
	var gotInputs any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInputs = req.Inputs
		switch in := req.Inputs.(type) {
		case string:
			_ = json.NewEncoder(w).Encode([][]float32{{1, 0}})
		case []any:
			out := make([][]float32, len(in))
			for i := range in {
				out[i] = []float32{float32(i), 1}
			}
			_ = json.NewEncoder(w).Encode(out)
		}
	}))
	defer server.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: server.URL, Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())
	assert.Equal(t, "BAAI/bge-small-en-v1.5", p.Model())

	vectors, err := p.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.Equal(t, float32(2), vectors[2][0])

	vec, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, "q", gotInputs)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProviderStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: server.URL, Model: "m"})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.True(t, status.Retryable())
}

type stubEmbedder struct{ dim int }

func (s stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func TestOpenAIProviderDelegates(t *testing.T) {
	p := newOpenAIProvider(stubEmbedder{dim: 4}, "text-embedding-3-small", 4)
	vectors, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)

	vec, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, vec, 4)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHashProvider(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()

	vectors, err := p.EmbedDocuments(ctx, []string{
		"def compute_total(items): return sum(items)",
		"def computeTotal(items): return sum(items)",
		"class HttpServer: pass",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	var norm float64
	for _, v := range vectors[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	assert.Equal(t, vectors[0], vectors[1])
	assert.NotEqual(t, vectors[0], vectors[2])

	empty, err := p.EmbedQuery(ctx, "")
	require.NoError(t, err)
	assert.Len(t, empty, 64)
	assert.Equal(t, "hash-64", p.Model())
}
