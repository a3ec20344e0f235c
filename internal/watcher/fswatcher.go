package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/codescout/internal/gitignore"
)

// FSWatcher observes one repository tree with fsnotify, feeding raw
// notifications through the debouncer. fsnotify does not recurse, so
// directories register as they are discovered and created.
type FSWatcher struct {
	root      string
	opts      Options
	ignore    *gitignore.Matcher
	debouncer *Debouncer
	errs      chan error
}

// NewFSWatcher creates a watcher for a repository root.
func NewFSWatcher(root string, ignore *gitignore.Matcher, opts Options) *FSWatcher {
	opts = opts.WithDefaults()
	if ignore == nil {
		ignore = gitignore.NewWithPatterns(opts.IgnorePatterns)
	}
	return &FSWatcher{
		root:      root,
		opts:      opts,
		ignore:    ignore,
		debouncer: NewDebouncer(opts.DebounceWindow),
		errs:      make(chan error, 16),
	}
}

// Events returns the channel of debounced event batches.
func (w *FSWatcher) Events() <-chan []Event {
	return w.debouncer.Output()
}

// Errors returns the channel of non-fatal watcher errors.
func (w *FSWatcher) Errors() <-chan error {
	return w.errs
}

// Start watches until the context ends. It blocks; run it in its own
// goroutine.
func (w *FSWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = fsw.Close()
		w.debouncer.Stop()
	}()

	if err := w.addRecursive(fsw, w.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errs <- err:
			default:
				slog.Warn("watcher_error_dropped", slog.String("error", err.Error()))
			}
		}
	}
}

// handle translates one fsnotify event.
func (w *FSWatcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if w.ignore.Match(rel, isDir) || alwaysSkipped(rel) {
		return
	}

	if isDir {
		if ev.Op.Has(fsnotify.Create) {
			// New directory: watch it and synthesize creates for its
			// contents, which raced ahead of the watch registration.
			if err := w.addRecursive(fsw, ev.Name); err != nil {
				slog.Debug("watch_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
			w.emitTreeCreates(ev.Name)
		}
		return
	}

	now := time.Now()
	switch {
	case ev.Op.Has(fsnotify.Create):
		w.debouncer.Add(Event{Path: rel, Kind: Created, Time: now})
	case ev.Op.Has(fsnotify.Write):
		w.debouncer.Add(Event{Path: rel, Kind: Modified, Time: now})
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// A rename's destination arrives as a separate Create; the move
		// detector pairs them by content hash.
		w.debouncer.Add(Event{Path: rel, Kind: Deleted, Time: now})
	case ev.Op.Has(fsnotify.Chmod):
		// Permission-only changes do not affect the index.
	}
}

// addRecursive registers a directory tree with fsnotify.
func (w *FSWatcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(w.root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && (alwaysSkipped(rel) || w.ignore.Match(rel, true)) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			slog.Debug("watch_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		return nil
	})
}

// emitTreeCreates synthesizes create events for files inside a directory
// that appeared as a unit (mkdir + mv).
func (w *FSWatcher) emitTreeCreates(dir string) {
	now := time.Now()
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(w.root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !w.ignore.Match(rel, false) {
			w.debouncer.Add(Event{Path: rel, Kind: Created, Time: now})
		}
		return nil
	})
}

// alwaysSkipped mirrors the scanner's hard skip list.
func alwaysSkipped(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		switch part {
		case ".git", ".hg", ".svn", ".mcp-index":
			return true
		}
	}
	return false
}
