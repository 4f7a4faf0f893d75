package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func commitAll(t *testing.T, repo *git.Repository, msg string, when time.Time) string {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	sig := &object.Signature{Name: "Dev", Email: "dev@example.com", When: when}
	hash, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
	return hash.String()
}

func TestOpenDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "print(1)\n")
	writeFile(t, root, "pkg/b.go", "package pkg\n")
	writeFile(t, root, "node_modules/x/index.js", "x\n")
	writeFile(t, root, ".git/config", "[core]\n")

	r, err := OpenDir(root)
	require.NoError(t, err)

	files, err := r.FileList(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.py", "pkg/b.go"}, files)

	content, err := r.FileContents("pkg/b.go")
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", content)

	sha, err := r.HeadCommitSHA()
	require.NoError(t, err)
	assert.Empty(t, sha)

	history, err := r.CommitHistory(context.Background(), "a.py")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOpenDir_Invalid(t *testing.T) {
	_, err := OpenDir("")
	assert.ErrorIs(t, err, ErrRepositoryUnreadable)

	_, err = OpenDir(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrRepositoryUnreadable)

	root := t.TempDir()
	writeFile(t, root, "file.txt", "x")
	_, err = OpenDir(filepath.Join(root, "file.txt"))
	assert.ErrorIs(t, err, ErrRepositoryUnreadable)
}

func TestFileContents_RejectsEscape(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "repo")
	writeFile(t, parent, "secret.txt", "nope")
	writeFile(t, root, "a.txt", "ok")

	r, err := OpenDir(root)
	require.NoError(t, err)
	_, err = r.FileContents("../secret.txt")
	assert.Error(t, err)
}

func TestOpen_FallsBackToDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = 1\n")

	r, err := Open(root)
	require.NoError(t, err)
	_, ok := r.(*DirRepo)
	assert.True(t, ok)

	_, err = Open(filepath.Join(root, "missing"))
	assert.ErrorIs(t, err, ErrRepositoryUnreadable)
}

func TestGitRepo_History(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, root, "foo.py", "def compute_total():\n    return 1\n")
	writeFile(t, root, "bar.py", "x = 1\n")
	first := commitAll(t, repo, "initial", base)

	writeFile(t, root, "foo.py", "def compute_total():\n    return 2\n")
	second := commitAll(t, repo, "change foo", base.Add(time.Hour))

	writeFile(t, root, "foo.py", "def compute_total():\n    return 3\n")
	third := commitAll(t, repo, "change foo again", base.Add(2*time.Hour))

	r, err := OpenGit(root)
	require.NoError(t, err)

	sha, err := r.HeadCommitSHA()
	require.NoError(t, err)
	assert.Equal(t, third, sha)

	ctx := context.Background()
	foo, err := r.CommitHistory(ctx, "foo.py")
	require.NoError(t, err)
	require.Len(t, foo, 3)
	assert.Equal(t, third, foo[0].SHA)
	assert.Equal(t, second, foo[1].SHA)
	assert.Equal(t, first, foo[2].SHA)
	assert.Equal(t, "Dev", foo[0].Author)
	assert.True(t, foo[0].When.Equal(base.Add(2*time.Hour)))

	bar, err := r.CommitHistory(ctx, "bar.py")
	require.NoError(t, err)
	require.Len(t, bar, 1)
	assert.Equal(t, first, bar[0].SHA)

	none, err := r.CommitHistory(ctx, "missing.py")
	require.NoError(t, err)
	assert.Empty(t, none)

	files, err := r.FileList(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo.py", "bar.py"}, files)
}

func TestGitRepo_HistoryFollowsHead(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, root, "foo.py", "x = 1\n")
	commitAll(t, repo, "initial", base)

	r, err := OpenGit(root)
	require.NoError(t, err)
	ctx := context.Background()
	foo, err := r.CommitHistory(ctx, "foo.py")
	require.NoError(t, err)
	require.Len(t, foo, 1)

	writeFile(t, root, "foo.py", "x = 2\n")
	latest := commitAll(t, repo, "change foo", base.Add(time.Hour))

	foo, err = r.CommitHistory(ctx, "foo.py")
	require.NoError(t, err)
	require.Len(t, foo, 2)
	assert.Equal(t, latest, foo[0].SHA)
}

func TestGitRepo_CanceledLoadIsNotCached(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	writeFile(t, root, "foo.py", "x = 1\n")
	commitAll(t, repo, "initial", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	r, err := OpenGit(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.CommitHistory(ctx, "foo.py")
	require.ErrorIs(t, err, context.Canceled)

	foo, err := r.CommitHistory(context.Background(), "foo.py")
	require.NoError(t, err)
	assert.Len(t, foo, 1)
}

func TestGitRepo_MaxCommits(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		writeFile(t, root, "a.txt", string(rune('a'+i)))
		commitAll(t, repo, "edit", base.Add(time.Duration(i)*time.Hour))
	}

	r, err := OpenGit(root, WithMaxCommits(2))
	require.NoError(t, err)
	history, err := r.CommitHistory(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestGitRepo_EmptyRepository(t *testing.T) {
	root := t.TempDir()
	_, err := git.PlainInit(root, false)
	require.NoError(t, err)

	r, err := OpenGit(root)
	require.NoError(t, err)

	sha, err := r.HeadCommitSHA()
	require.NoError(t, err)
	assert.Empty(t, sha)

	history, err := r.CommitHistory(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Empty(t, history)
}
