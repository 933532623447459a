package events

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change is a committed name appearing in, or leaving, a store directory.
type Change struct {
	ID string
	Op Op
}

// Watcher follows a store directory and reports committed assets. Temp files
// of in-progress writes are ignored; a commit shows up as the rename target.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{dir: dir, watcher: w, logger: logger}, nil
}

// Run delivers changes to fn until ctx is done. fn runs on the watcher goroutine.
func (w *Watcher) Run(ctx context.Context, fn func(Change)) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if c, ok := toChange(ev); ok {
				fn(c)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.String("dir", w.dir), zap.Error(err))
		}
	}
}

func toChange(ev fsnotify.Event) (Change, bool) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return Change{}, false
	}
	switch {
	case ev.Has(fsnotify.Create):
		return Change{ID: name, Op: OpCommitted}, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Change{ID: name, Op: OpDeleted}, true
	}
	return Change{}, false
}
