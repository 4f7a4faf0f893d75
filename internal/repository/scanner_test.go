package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// wholeFile chunks each file into a single snippet.
type wholeFile struct{}

func (wholeFile) Chunk(path, content string) []snippet.Snippet {
	return []snippet.Snippet{{FilePath: path, Content: content, Start: 0, End: snippet.LineCount(content)}}
}

func scanPaths(res *ScanResult) []string {
	out := make([]string, len(res.Files))
	for i, f := range res.Files {
		out[i] = f.Path
	}
	return out
}

func TestScan_Filters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.py", "def main():\n    pass\n")
	writeFile(t, root, "src/util.go", "package src\n")
	writeFile(t, root, "docs/readme.md", "# docs\n")
	writeFile(t, root, "vendor/lib/lib.go", "package lib\n")
	writeFile(t, root, "venv/lib/site.py", "x\n")
	writeFile(t, root, "build/out.js", "x\n")

	repo, err := OpenDir(root)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "defaults",
			opts: DefaultOptions(),
			want: []string{"src/main.py", "src/util.go", "docs/readme.md"},
		},
		{
			name: "include dirs",
			opts: Options{IncludeDirs: []string{"src/"}},
			want: []string{"src/main.py", "src/util.go"},
		},
		{
			name: "exclude dirs by prefix",
			opts: Options{ExcludeDirs: []string{"src", "vendor", "build"}},
			want: []string{"docs/readme.md"},
		},
		{
			name: "include exts without dot",
			opts: Options{IncludeExts: []string{"py"}},
			want: []string{"src/main.py"},
		},
		{
			name: "exclude exts",
			opts: Options{ExcludeExts: []string{".MD", ".js"}, ExcludeDirs: []string{"vendor"}},
			want: []string{"src/main.py", "src/util.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewScanner(wholeFile{}, nil).Scan(context.Background(), repo, tt.opts)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, scanPaths(res))
			assert.Len(t, res.Snippets, len(tt.want))
		})
	}
}

func TestScan_SkipsLargeAndBinary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.py", "x = 1\n")
	writeFile(t, root, "big.py", strings.Repeat("a", 101))
	writeFile(t, root, "blob.bin", "abc\x00def")

	repo, err := OpenDir(root)
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	res, err := NewScanner(wholeFile{}, zap.New(core)).Scan(context.Background(), repo, Options{MaxFileSize: 100})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok.py"}, scanPaths(res))
	require.Len(t, res.Skipped, 2)
	for _, se := range res.Skipped {
		switch se.Path {
		case "big.py":
			assert.ErrorIs(t, se, errTooLarge)
		case "blob.bin":
			assert.ErrorIs(t, se, errBinary)
		default:
			t.Fatalf("unexpected skipped path %s", se.Path)
		}
	}
	assert.Equal(t, 2, logs.FilterMessage("skipping file").Len())
}

func TestScan_Gitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\ngenerated/\n")
	writeFile(t, root, "app.py", "x\n")
	writeFile(t, root, "debug.log", "x\n")
	writeFile(t, root, "generated/code.py", "x\n")
	writeFile(t, root, "pkg/.gitignore", "local.py\n")
	writeFile(t, root, "pkg/local.py", "x\n")
	writeFile(t, root, "pkg/kept.py", "x\n")

	repo, err := OpenDir(root)
	require.NoError(t, err)

	res, err := NewScanner(nil, nil).Scan(context.Background(), repo, Options{RespectGitignore: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".gitignore", "app.py", "pkg/.gitignore", "pkg/kept.py"}, scanPaths(res))
	assert.Empty(t, res.Snippets)

	res, err = NewScanner(nil, nil).Scan(context.Background(), repo, Options{})
	require.NoError(t, err)
	assert.Len(t, res.Files, 7)
}

func TestScan_Canceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x\n")
	repo, err := OpenDir(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewScanner(wholeFile{}, nil).Scan(ctx, repo, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
