package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

func pythonSource(funcs int) string {
	var b strings.Builder
	b.WriteString("import os\n\n")
	for i := range funcs {
		fmt.Fprintf(&b, "def function_%d(values):\n", i)
		for j := range 6 {
			fmt.Fprintf(&b, "    total_%d = sum(v * %d for v in values if v > %d)\n", j, j+1, j)
		}
		b.WriteString("    return total_0\n\n")
	}
	return b.String()
}

// assertPartition checks that chunks tile [0, LineCount) in order.
func assertPartition(t *testing.T, content string, chunks []snippet.Snippet) {
	t.Helper()
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Start)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].End, chunks[i].Start, "chunk %d not contiguous", i)
	}
	assert.Equal(t, snippet.LineCount(content), chunks[len(chunks)-1].End)
	for _, c := range chunks {
		require.NoError(t, c.Validate())
	}
}

func TestChunk_PythonSplitsOnDefinitions(t *testing.T) {
	src := pythonSource(4)
	c := New(Config{MaxChars: 400, Coalesce: 20}, zaptest.NewLogger(t))

	chunks := c.Chunk("pkg/mod.py", src)
	assertPartition(t, src, chunks)
	require.Len(t, chunks, 4)

	lines := snippet.SplitLines(src)
	for i, ch := range chunks[1:] {
		assert.True(t, strings.HasPrefix(lines[ch.Start], "def function_"),
			"chunk %d starts at %q", i+1, lines[ch.Start])
	}
	assert.Contains(t, chunks[0].Text(), "import os")
	assert.Contains(t, chunks[0].Text(), "def function_0")
	for _, ch := range chunks {
		assert.Equal(t, "pkg/mod.py", ch.FilePath)
		assert.Equal(t, src, ch.Content)
	}
}

func TestChunk_LargeLimitKeepsOneChunk(t *testing.T) {
	src := pythonSource(2)
	chunks := New(DefaultConfig(), nil).Chunk("a.py", src)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, snippet.LineCount(src), chunks[0].End)
}

func TestChunk_OversizedNodeIsSplit(t *testing.T) {
	var b strings.Builder
	b.WriteString("class Big:\n")
	for i := range 12 {
		fmt.Fprintf(&b, "    def method_%d(self):\n        return self.value_%d + %d\n\n", i, i, i)
	}
	src := b.String()

	chunks := New(Config{MaxChars: 200, Coalesce: 10}, nil).Chunk("big.py", src)
	assertPartition(t, src, chunks)
	assert.Greater(t, len(chunks), 1)
}

func TestChunk_GoSource(t *testing.T) {
	var b strings.Builder
	b.WriteString("package main\n\n")
	for i := range 3 {
		fmt.Fprintf(&b, "func handler%d(w int) int {\n", i)
		for j := range 8 {
			fmt.Fprintf(&b, "\tw = w*%d + %d // step %d of the handler body\n", j+2, j, j)
		}
		b.WriteString("\treturn w\n}\n\n")
	}
	src := b.String()

	chunks := New(Config{MaxChars: 450, Coalesce: 20}, nil).Chunk("main.go", src)
	assertPartition(t, src, chunks)
	require.Len(t, chunks, 3)
}

func TestChunk_UnsupportedLanguageUsesWindows(t *testing.T) {
	src := strings.Repeat("line\n", 95)
	chunks := New(Config{WindowLines: 40}, nil).Chunk("notes.txt", src)
	require.Len(t, chunks, 3)
	assert.Equal(t, [][2]int{{0, 40}, {40, 80}, {80, 95}}, ranges(chunks))
}

func TestChunk_Empty(t *testing.T) {
	c := New(DefaultConfig(), nil)
	assert.Empty(t, c.Chunk("a.py", ""))
	assert.Empty(t, c.Chunk("a.py", "\n\n  \n"))
}

func ranges(chunks []snippet.Snippet) [][2]int {
	out := make([][2]int, len(chunks))
	for i, c := range chunks {
		out[i] = [2]int{c.Start, c.End}
	}
	return out
}

func TestWindows(t *testing.T) {
	content := strings.Repeat("x\n", 10)

	tests := []struct {
		name    string
		size    int
		overlap int
		want    [][2]int
	}{
		{name: "exact", size: 5, want: [][2]int{{0, 5}, {5, 10}}},
		{name: "remainder", size: 4, want: [][2]int{{0, 4}, {4, 8}, {8, 10}}},
		{name: "overlap", size: 4, overlap: 2, want: [][2]int{{0, 4}, {2, 6}, {4, 8}, {6, 10}}},
		{name: "larger than file", size: 50, want: [][2]int{{0, 10}}},
		{name: "bad overlap ignored", size: 5, overlap: 5, want: [][2]int{{0, 5}, {5, 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ranges(Windows("f.txt", content, tt.size, tt.overlap)))
		})
	}

	assert.Nil(t, Windows("f.txt", "", 5, 0))
	assert.Nil(t, Windows("f.txt", content, 0, 0))
}

func TestFine(t *testing.T) {
	content := strings.Repeat("y\n", 45)
	chunks := New(DefaultConfig(), nil).Fine("a.py", content, 20)
	assert.Equal(t, [][2]int{{0, 20}, {20, 40}, {40, 45}}, ranges(chunks))
}

func TestLanguageFor(t *testing.T) {
	tests := map[string]string{
		"a.py":        "python",
		"b/c.GO":      "go",
		"web/app.js":  "javascript",
		"web/app.ts":  "typescript",
		"ui/view.tsx": "tsx",
	}
	for p, want := range tests {
		lang := LanguageFor(p)
		require.NotNil(t, lang, p)
		assert.Equal(t, want, lang.Name)
	}
	assert.Nil(t, LanguageFor("README.md"))
	assert.Nil(t, LanguageFor("Makefile"))
}

func TestCoalesce(t *testing.T) {
	src := []byte("aaaa bbbbbbbbbb cc")
	spans := []span{{0, 5}, {5, 16}, {16, 18}}
	got := coalesce(spans, src, 5)
	assert.Equal(t, []span{{0, 18}}, got)

	got = coalesce(spans, src, 3)
	assert.Equal(t, []span{{0, 5}, {5, 18}}, got)
}
