// Package watch reports changes to a repository working tree.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is the quiet period before a change batch is emitted.
const DefaultDebounce = 500 * time.Millisecond

// Change is a batch of paths, relative to the root, modified within one
// debounce window.
type Change struct {
	Paths []string
	At    time.Time
}

// Watcher watches every directory under a root except excluded names.
type Watcher struct {
	root     string
	exclude  map[string]bool
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan Change
	logger   *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithExcludeDirs skips directories with these base names.
func WithExcludeDirs(names ...string) Option {
	return func(w *Watcher) {
		for _, n := range names {
			w.exclude[n] = true
		}
	}
}

// New creates a Watcher rooted at root. Directories named .git are always
// skipped.
func New(root string, logger *zap.Logger, opts ...Option) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	w := &Watcher{
		root:     abs,
		exclude:  map[string]bool{".git": true},
		debounce: DefaultDebounce,
		watcher:  fw,
		changes:  make(chan Change, 1),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addTree(abs); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Changes returns the channel of change batches. It is closed when Run
// returns.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)
	defer w.watcher.Close()

	var (
		pending []string
		timer   *time.Timer
		fire    <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			rel, skip := w.handle(event)
			if skip {
				continue
			}
			if !slices.Contains(pending, rel) {
				pending = append(pending, rel)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			batch := Change{Paths: pending, At: time.Now()}
			pending = nil
			select {
			case w.changes <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// handle registers new directories and maps the event to a relative path.
func (w *Watcher) handle(event fsnotify.Event) (string, bool) {
	if event.Op == fsnotify.Chmod {
		return "", true
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || w.excluded(rel) {
		return "", true
	}
	if event.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watching new directory", zap.String("path", rel), zap.Error(err))
			}
		}
	}
	return filepath.ToSlash(rel), false
}

func (w *Watcher) excluded(rel string) bool {
	dir := rel
	for dir != "." && dir != "" && dir != string(filepath.Separator) {
		if w.exclude[filepath.Base(dir)] {
			return true
		}
		dir = filepath.Dir(dir)
	}
	return false
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Debug("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.exclude[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
