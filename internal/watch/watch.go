// Package watch re-runs a task whenever watched files change. Changes are
// debounced so a burst of writes (editor save, git checkout) triggers one
// run, and changes arriving while a run is active queue exactly one rerun.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultIgnores are directory names skipped unless IgnoreNames overrides
// them.
var DefaultIgnores = []string{".git", ".anvil", "node_modules", "target"}

// Config tunes a watch session.
type Config struct {
	// Paths are files or directories to watch. Directories are watched
	// recursively.
	Paths []string
	// Debounce is how long to wait after the last change before
	// triggering. Zero means 500ms.
	Debounce time.Duration
	// IgnoreHidden skips dotfiles and dot-directories.
	IgnoreHidden bool
	// IgnoreNames are base names never watched or reported. Nil means
	// DefaultIgnores.
	IgnoreNames []string
}

func (c Config) ignored(name string) bool {
	names := c.IgnoreNames
	if names == nil {
		names = DefaultIgnores
	}
	for _, n := range names {
		if name == n {
			return true
		}
	}
	return false
}

// RunFunc executes one watched run. Errors are logged, not fatal: the
// watch session keeps going.
type RunFunc func(ctx context.Context) error

// Watcher triggers runs on filesystem changes.
type Watcher struct {
	cfg    Config
	logger *zap.Logger
	fsw    *fsnotify.Watcher
}

// New creates a watcher over the configured paths.
func New(cfg Config, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{cfg: cfg, logger: logger, fsw: fsw}
	for _, path := range cfg.Paths {
		if err := w.add(path); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// add registers a path, walking directories recursively.
func (w *Watcher) add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.fsw.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && (w.cfg.ignored(d.Name()) || (w.cfg.IgnoreHidden && strings.HasPrefix(d.Name(), "."))) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run blocks, triggering run on debounced changes, until ctx is done.
// An initial run is always performed before waiting for changes.
func (w *Watcher) Run(ctx context.Context, run RunFunc) error {
	debounce := w.cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w.invoke(ctx, run)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("change detected", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.invoke(ctx, run)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	if w.cfg.ignored(base) {
		return false
	}
	if w.cfg.IgnoreHidden && strings.HasPrefix(base, ".") {
		return false
	}
	// New directories join the watch set so nested changes are seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.add(event.Name); err != nil {
				w.logger.Warn("watch add failed", zap.String("path", event.Name), zap.Error(err))
			}
		}
	}
	return true
}

func (w *Watcher) invoke(ctx context.Context, run RunFunc) {
	start := time.Now()
	if err := run(ctx); err != nil {
		w.logger.Warn("watched run failed", zap.Error(err))
		return
	}
	w.logger.Info("watched run finished", zap.Duration("took", time.Since(start)))
}
