package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// DefaultMaxCommits bounds how far back history is read.
const DefaultMaxCommits = 1000

// GitRepo serves a git working tree. File contents come from the working
// tree; history comes from the commit graph reachable from HEAD.
type GitRepo struct {
	root       string
	repo       *git.Repository
	maxCommits int

	mu sync.Mutex
	// history is the per-path history reachable from historyHead.
	history     map[string][]CommitMeta
	historyHead plumbing.Hash
}

// GitOption configures a GitRepo.
type GitOption func(*GitRepo)

// WithMaxCommits caps the number of commits walked for history.
func WithMaxCommits(n int) GitOption {
	return func(r *GitRepo) {
		if n > 0 {
			r.maxCommits = n
		}
	}
}

// OpenGit opens the git repository at root.
func OpenGit(root string, opts ...GitOption) (*GitRepo, error) {
	clean, err := validateRoot(root)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: opening git repository: %w", ErrRepositoryUnreadable, err)
	}
	r := &GitRepo{root: clean, repo: repo, maxCommits: DefaultMaxCommits}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Open returns a GitRepo when root is a git repository and a DirRepo otherwise.
func Open(root string, opts ...GitOption) (Repo, error) {
	r, err := OpenGit(root, opts...)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return OpenDir(root)
	}
	return nil, err
}

// Root returns the absolute repository root.
func (r *GitRepo) Root() string { return r.root }

// FileList implements Repo.
func (r *GitRepo) FileList(ctx context.Context) ([]string, error) {
	return listFiles(ctx, r.root)
}

// FileContents implements Repo.
func (r *GitRepo) FileContents(p string) (string, error) {
	return readFile(r.root, p)
}

// HeadCommitSHA returns the hash HEAD points at, or "" for an empty repository.
func (r *GitRepo) HeadCommitSHA() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("getting HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// CommitHistory returns the commits touching path, newest first. The
// history of the current HEAD is read once and shared by later calls; it is
// reloaded when HEAD moves. Failed loads are not cached.
func (r *GitRepo) CommitHistory(ctx context.Context, path string) ([]CommitMeta, error) {
	head, err := r.repo.Head()
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("getting HEAD: %w", err)
	}
	var hash plumbing.Hash
	if head != nil {
		hash = head.Hash()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.history == nil || r.historyHead != hash {
		history, err := r.loadHistory(ctx, hash)
		if err != nil {
			return nil, err
		}
		r.history, r.historyHead = history, hash
	}
	commits := r.history[path]
	out := make([]CommitMeta, len(commits))
	copy(out, commits)
	return out, nil
}

func (r *GitRepo) loadHistory(ctx context.Context, head plumbing.Hash) (map[string][]CommitMeta, error) {
	history := make(map[string][]CommitMeta)
	if head.IsZero() {
		return history, nil
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	seen := 0
	for seen < r.maxCommits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating log: %w", err)
		}
		seen++

		paths, err := changedPaths(c)
		if err != nil {
			return nil, fmt.Errorf("diffing commit %s: %w", c.Hash, err)
		}
		meta := CommitMeta{SHA: c.Hash.String(), Author: c.Author.Name, When: c.Committer.When}
		for _, p := range paths {
			history[p] = append(history[p], meta)
		}
	}

	for _, commits := range history {
		sort.SliceStable(commits, func(i, j int) bool {
			return commits[i].When.After(commits[j].When)
		})
	}
	return history, nil
}

// changedPaths lists paths a commit added or modified relative to its first
// parent. A root commit touches every file in its tree.
func changedPaths(c *object.Commit) ([]string, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}
	if c.NumParents() == 0 {
		var paths []string
		err := tree.Files().ForEach(func(f *object.File) error {
			paths = append(paths, f.Name)
			return nil
		})
		return paths, err
	}
	parent, err := c.Parent(0)
	if err != nil {
		return nil, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(changes))
	for _, ch := range changes {
		if ch.To.Name != "" {
			paths = append(paths, ch.To.Name)
		}
	}
	return paths, nil
}
