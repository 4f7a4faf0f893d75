package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrRepositoryUnreadable indicates the repository root cannot be read at all.
var ErrRepositoryUnreadable = errors.New("repository unreadable")

// defaultSkipDirs are never descended into.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	".next":        true,
	".tox":         true,
	".mypy_cache":  true,
}

// CommitMeta describes one commit touching a file.
type CommitMeta struct {
	SHA    string
	Author string
	When   time.Time
}

// Repo is a read-only view of a repository snapshot. Paths are relative to
// Root and slash-separated.
type Repo interface {
	Root() string
	FileList(ctx context.Context) ([]string, error)
	FileContents(path string) (string, error)
	HeadCommitSHA() (string, error)
	CommitHistory(ctx context.Context, path string) ([]CommitMeta, error)
}

// DirRepo serves a plain directory. It has no commit history.
type DirRepo struct {
	root string
}

// OpenDir validates root and returns a DirRepo.
func OpenDir(root string) (*DirRepo, error) {
	clean, err := validateRoot(root)
	if err != nil {
		return nil, err
	}
	return &DirRepo{root: clean}, nil
}

// Root returns the absolute repository root.
func (r *DirRepo) Root() string { return r.root }

// FileList implements Repo.
func (r *DirRepo) FileList(ctx context.Context) ([]string, error) {
	return listFiles(ctx, r.root)
}

// FileContents implements Repo.
func (r *DirRepo) FileContents(p string) (string, error) {
	return readFile(r.root, p)
}

// HeadCommitSHA returns "" for a plain directory.
func (r *DirRepo) HeadCommitSHA() (string, error) { return "", nil }

// CommitHistory returns no commits for a plain directory.
func (r *DirRepo) CommitHistory(context.Context, string) ([]CommitMeta, error) {
	return nil, nil
}

// validateRoot validates and cleans a repository path.
func validateRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: path cannot be empty", ErrRepositoryUnreadable)
	}
	clean, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRepositoryUnreadable, err)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRepositoryUnreadable, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: path must be a directory: %s", ErrRepositoryUnreadable, clean)
	}
	return clean, nil
}

// listFiles walks root and returns regular files, skipping defaultSkipDirs
// and symlinks.
func listFiles(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// unreadable subtree; the scanner reports per-file errors
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != root && defaultSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: walking %s: %v", ErrRepositoryUnreadable, root, err)
	}
	return files, nil
}

func readFile(root, rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("path escapes repository: %s", rel)
	}
	b, err := os.ReadFile(filepath.Join(root, local))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
