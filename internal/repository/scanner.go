package repository

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// DefaultMaxFileSize is the largest file, in bytes, the scanner reads.
const DefaultMaxFileSize = 60000

// DefaultExcludeDirs are skipped in addition to the always-skipped
// version control and tool directories.
var DefaultExcludeDirs = []string{"vendor", "dist", "build", "target"}

// Options controls which files a scan reads.
type Options struct {
	// IncludeDirs limits the scan to these directory prefixes when set.
	IncludeDirs []string
	// ExcludeDirs skips directories by name or path prefix.
	ExcludeDirs []string
	// IncludeExts limits the scan to these extensions when set.
	IncludeExts []string
	// ExcludeExts skips files with these extensions.
	ExcludeExts []string
	// MaxFileSize skips larger files. Zero means DefaultMaxFileSize.
	MaxFileSize int
	// RespectGitignore applies .gitignore files found in the tree.
	RespectGitignore bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ExcludeDirs:      append([]string(nil), DefaultExcludeDirs...),
		MaxFileSize:      DefaultMaxFileSize,
		RespectGitignore: true,
	}
}

// ScanError records a file the scanner skipped.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string { return fmt.Sprintf("scanning %s: %v", e.Path, e.Err) }

func (e *ScanError) Unwrap() error { return e.Err }

var (
	errTooLarge = errors.New("file exceeds size limit")
	errBinary   = errors.New("binary file")
)

// Chunker cuts one file into snippets.
type Chunker interface {
	Chunk(path, content string) []snippet.Snippet
}

// File is a scanned source file.
type File struct {
	Path    string
	Content string
}

// ScanResult is the output of a scan.
type ScanResult struct {
	Files    []File
	Snippets []snippet.Snippet
	Skipped  []*ScanError
}

// Scanner walks a repository and produces snippets.
type Scanner struct {
	chunker Chunker
	logger  *zap.Logger
}

// NewScanner creates a Scanner.
func NewScanner(chunker Chunker, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{chunker: chunker, logger: logger}
}

// Scan lists, filters, reads and chunks every file in repo. Per-file
// problems are logged and recorded in Skipped; only an unreadable
// repository is an error.
func (s *Scanner) Scan(ctx context.Context, repo Repo, opts Options) (*ScanResult, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	f := newFilter(opts)

	if opts.RespectGitignore {
		patterns, err := gitignore.ReadPatterns(osfs.New(repo.Root()), nil)
		if err != nil {
			s.logger.Warn("reading .gitignore patterns", zap.Error(err))
		} else if len(patterns) > 0 {
			f.ignore = gitignore.NewMatcher(patterns)
		}
	}

	paths, err := repo.FileList(ctx)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !f.include(p) {
			continue
		}

		content, err := s.read(repo, p, opts.MaxFileSize)
		if err != nil {
			se := &ScanError{Path: p, Err: err}
			s.logger.Warn("skipping file", zap.String("path", p), zap.Error(err))
			result.Skipped = append(result.Skipped, se)
			continue
		}

		result.Files = append(result.Files, File{Path: p, Content: content})
		if s.chunker != nil {
			result.Snippets = append(result.Snippets, s.chunker.Chunk(p, content)...)
		}
	}

	s.logger.Debug("scan complete",
		zap.String("root", repo.Root()),
		zap.Int("files", len(result.Files)),
		zap.Int("snippets", len(result.Snippets)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *Scanner) read(repo Repo, p string, limit int) (string, error) {
	content, err := repo.FileContents(p)
	if err != nil {
		return "", err
	}
	if len(content) > limit {
		return "", fmt.Errorf("%w: %d bytes", errTooLarge, len(content))
	}
	if !utf8.ValidString(content) || strings.IndexByte(content, 0) >= 0 {
		return "", errBinary
	}
	return content, nil
}

type filter struct {
	includeDirs []string
	excludeDirs []string
	includeExts map[string]bool
	excludeExts map[string]bool
	ignore      gitignore.Matcher
}

func newFilter(opts Options) *filter {
	return &filter{
		includeDirs: cleanDirs(opts.IncludeDirs),
		excludeDirs: cleanDirs(opts.ExcludeDirs),
		includeExts: extSet(opts.IncludeExts),
		excludeExts: extSet(opts.ExcludeExts),
	}
}

// include reports whether the file at slash path p passes every filter.
func (f *filter) include(p string) bool {
	parts := strings.Split(p, "/")
	dirs := parts[:len(parts)-1]

	for i, d := range dirs {
		if defaultSkipDirs[d] {
			return false
		}
		prefix := strings.Join(dirs[:i+1], "/")
		for _, ex := range f.excludeDirs {
			if ex == d || ex == prefix {
				return false
			}
		}
	}

	if len(f.includeDirs) > 0 {
		ok := false
		for _, in := range f.includeDirs {
			if in == "." || strings.HasPrefix(p, in+"/") {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	ext := strings.ToLower(path.Ext(p))
	if len(f.includeExts) > 0 && !f.includeExts[ext] {
		return false
	}
	if f.excludeExts[ext] {
		return false
	}

	if f.ignore != nil {
		for i := 1; i < len(parts); i++ {
			if f.ignore.Match(parts[:i], true) {
				return false
			}
		}
		if f.ignore.Match(parts, false) {
			return false
		}
	}
	return true
}

func cleanDirs(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		d = strings.Trim(path.Clean(strings.ReplaceAll(d, "\\", "/")), "/")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func extSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}
