// Package watcher reports changes under the library directory. It only
// informs; whether the index is stale is still decided by the directory
// signature when the next question arrives.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"ragchat/internal/logger"
)

// DefaultQuiet is the debounce window used by New.
const DefaultQuiet = 500 * time.Millisecond

// Watcher recursively watches a directory tree.
type Watcher struct {
	root          string
	includeHidden bool
	fs            *fsnotify.Watcher
	debouncer     *Debouncer
}

// New registers root and every subdirectory. Hidden directories are skipped
// unless includeHidden is set, matching what the loader reads.
func New(root string, includeHidden bool, quiet time.Duration) (*Watcher, error) {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:          root,
		includeHidden: includeHidden,
		fs:            fw,
		debouncer:     NewDebouncer(quiet),
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skip(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			logger.Logger.Warn().Err(err).Str("path", path).Msg("cannot watch directory")
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Changes delivers debounced batches of root-relative changes.
func (w *Watcher) Changes() <-chan []Change { return w.debouncer.Batches() }

// Run consumes filesystem events until ctx ends or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Logger.Warn().Err(err).Str("dir", w.root).Msg("watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.skip(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(ev.Name); err != nil {
				logger.Logger.Warn().Err(err).Str("path", ev.Name).Msg("cannot watch new directory")
			}
			return
		}
	}
	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpWrite
	case ev.Has(fsnotify.Remove):
		op = OpRemove
	case ev.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	w.debouncer.Add(filepath.ToSlash(rel), op)
}

func (w *Watcher) skip(path string) bool {
	if w.includeHidden {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (w *Watcher) Close() error {
	w.debouncer.Stop()
	return w.fs.Close()
}
