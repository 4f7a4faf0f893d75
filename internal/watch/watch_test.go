package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startWatcher(t *testing.T, root string, opts ...Option) *Watcher {
	t.Helper()
	w, err := New(root, zaptest.NewLogger(t), append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func nextChange(t *testing.T, w *Watcher) Change {
	t.Helper()
	select {
	case c, ok := <-w.Changes():
		require.True(t, ok)
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
		return Change{}
	}
}

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatcher_BatchesChanges(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	write(t, filepath.Join(root, "a.go"), "package a\n")
	write(t, filepath.Join(root, "b.go"), "package b\n")

	c := nextChange(t, w)
	assert.Contains(t, c.Paths, "a.go")
	assert.Contains(t, c.Paths, "b.go")
	assert.False(t, c.At.IsZero())
}

func TestWatcher_NewDirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.Mkdir(filepath.Join(root, "pkg"), 0o755))
	nextChange(t, w)

	write(t, filepath.Join(root, "pkg", "x.go"), "package pkg\n")
	assert.Contains(t, nextChange(t, w).Paths, "pkg/x.go")
}

func TestWatcher_SkipsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))
	w := startWatcher(t, root, WithExcludeDirs("node_modules"))

	write(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main\n")
	write(t, filepath.Join(root, "node_modules", "dep", "index.js"), "x\n")
	write(t, filepath.Join(root, "main.go"), "package main\n")

	assert.Equal(t, []string{"main.go"}, nextChange(t, w).Paths)
}

func TestWatcher_ClosesOnCancel(t *testing.T) {
	w, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	_, ok := <-w.Changes()
	assert.False(t, ok)
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestExcluded(t *testing.T) {
	w := &Watcher{exclude: map[string]bool{".git": true, "vendor": true}}
	assert.True(t, w.excluded(".git/HEAD"))
	assert.True(t, w.excluded("a/vendor/b.go"))
	assert.False(t, w.excluded("a/b.go"))
	assert.False(t, w.excluded("."))
}
