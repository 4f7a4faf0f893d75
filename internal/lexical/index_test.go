package lexical

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repoctx/internal/snippet"
	"github.com/fyrsmithlabs/repoctx/internal/tokenizer"
)

func corpus() []Document {
	return []Document{
		{ID: "foo.py:0-3", Title: "foo.py", URL: "foo.py", Content: "def compute_total(items):\n    return sum(items)\n"},
		{ID: "bar.py:0-3", Title: "bar.py", URL: "bar.py", Content: "def render(view):\n    return view.html()\n"},
		{ID: "bar.py:3-6", Title: "bar.py", URL: "bar.py", Content: "def total_width(cols):\n    return len(cols)\n"},
		{ID: "baz.py:0-2", Title: "baz.py", URL: "baz.py", Content: "class Config:\n    pass\n"},
	}
}

func TestSearchRanksBestMatchFirst(t *testing.T) {
	idx, err := Build(corpus(), WithStopwords(tokenizer.Set{}))
	require.NoError(t, err)

	got := idx.Search("compute total is wrong", KeyByID)
	require.Contains(t, got, "foo.py:0-3")
	require.Contains(t, got, "bar.py:3-6")
	assert.NotContains(t, got, "baz.py:0-2")
	assert.Equal(t, 1.0, got["foo.py:0-3"])
	assert.Greater(t, got["foo.py:0-3"], got["bar.py:3-6"])
	assert.InDelta(t, DefaultFloor, got["bar.py:3-6"], 1e-9)
}

func TestSearchScoresInUnitRange(t *testing.T) {
	idx, err := Build(corpus(), WithStopwords(tokenizer.Set{}))
	require.NoError(t, err)

	for _, q := range []string{"total", "return items view", "def", "config pass"} {
		for k, v := range idx.Search(q, KeyByID) {
			assert.GreaterOrEqual(t, v, 0.0, k)
			assert.LessOrEqual(t, v, 1.0, k)
		}
	}
}

func TestSearchDeterministic(t *testing.T) {
	a, err := Build(corpus())
	require.NoError(t, err)
	b, err := Build(corpus())
	require.NoError(t, err)
	assert.Equal(t, a.Search("render total width", KeyByID), b.Search("render total width", KeyByID))
}

func TestSearchNoHits(t *testing.T) {
	idx, err := Build(corpus())
	require.NoError(t, err)

	got := idx.Search("kubernetes", KeyByID)
	require.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, idx.Search("", KeyByID))
}

func TestSearchKeyByTitle(t *testing.T) {
	idx, err := Build(corpus(), WithStopwords(tokenizer.Set{}))
	require.NoError(t, err)

	got := idx.Search("render total", KeyByTitle)
	assert.Contains(t, got, "bar.py")
	assert.Contains(t, got, "foo.py")
	assert.NotContains(t, got, "bar.py:0-3")
}

func TestSearchAllEqualScores(t *testing.T) {
	docs := []Document{
		{ID: "a", Title: "a", Content: "alpha"},
		{ID: "b", Title: "b", Content: "alpha"},
	}
	idx, err := Build(docs, WithStopwords(tokenizer.Set{}))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1, "b": 1}, idx.Search("alpha", KeyByID))
}

func TestTitleFieldMatches(t *testing.T) {
	docs := []Document{
		{ID: "auth/login.py:0-1", Title: "auth/login.py", Content: "x = 1"},
		{ID: "util.py:0-1", Title: "util.py", Content: "y = 2"},
	}
	idx, err := Build(docs, WithStopwords(tokenizer.Set{}))
	require.NoError(t, err)
	got := idx.Search("login fails", KeyByID)
	assert.Equal(t, map[string]float64{"auth/login.py:0-1": 1}, got)
}

func TestBuildRejectsDuplicates(t *testing.T) {
	_, err := Build([]Document{{ID: "a"}, {ID: "a"}})
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = Build([]Document{{ID: ""}})
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestCorpusStopwordsExcluded(t *testing.T) {
	var docs []Document
	for i := 0; i < 30; i++ {
		word := string(rune('a'+i%26)) + string(rune('a'+i/26)) + "zz"
		docs = append(docs, Document{ID: fmt.Sprint(i), Title: "f.py", Content: "self self self " + word})
	}
	docs = append(docs, Document{ID: "x", Title: "g.py", Content: "unique_marker"})
	idx, err := Build(docs, WithStopwordCount(1))
	require.NoError(t, err)
	assert.True(t, idx.Stopwords().Has("self"))
	assert.Empty(t, idx.Search("self", KeyByID))
	assert.Contains(t, idx.Search("unique marker", KeyByID), "x")
}

func TestSmallCorpusHasNoStopwords(t *testing.T) {
	idx, err := Build([]Document{
		{ID: "foo.py:0-2", Title: "foo.py", Content: "def compute_total(items):\n    return sum(items)\n"},
	})
	require.NoError(t, err)
	assert.Empty(t, idx.Stopwords())
	assert.Equal(t, map[string]float64{"foo.py:0-2": 1}, idx.Search("compute_total function", KeyByID))
}

func TestFromSnippets(t *testing.T) {
	content := "import os\n\ndef compute_total(x):\n    return x\n"
	s := []snippet.Snippet{
		{Content: content, Start: 0, End: 2, FilePath: "foo.py"},
		{Content: content, Start: 2, End: 4, FilePath: "foo.py"},
	}
	idx, err := FromSnippets(s, WithStopwords(tokenizer.Set{}))
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	got := idx.Search("compute_total", KeyByID)
	assert.Equal(t, map[string]float64{"foo.py:2-4": 1}, got)
}

func TestHitsOrdering(t *testing.T) {
	idx, err := Build(corpus(), WithStopwords(tokenizer.Set{}))
	require.NoError(t, err)
	hits := idx.Hits("total", 0)
	require.Len(t, hits, 2)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.Len(t, idx.Hits("total", 1), 1)
}

func TestNormalize(t *testing.T) {
	got := Normalize(map[string]float64{"a": 2, "b": 4, "c": 3}, 0.05)
	assert.InDelta(t, 0.05, got["a"], 1e-9)
	assert.InDelta(t, 1.0, got["b"], 1e-9)
	assert.InDelta(t, 0.525, got["c"], 1e-9)
	assert.Empty(t, Normalize(nil, 0.05))
}

func TestCacheGetOrBuild(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)

	builds := 0
	build := func() (*Index, error) {
		builds++
		return Build(corpus())
	}
	_, hit, err := c.GetOrBuild("abc", build)
	require.NoError(t, err)
	assert.False(t, hit)
	_, hit, err = c.GetOrBuild("abc", build)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, builds)

	_, _, err = c.GetOrBuild("", build)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
	assert.Equal(t, 1, c.Len())
}
