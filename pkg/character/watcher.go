package character

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher keeps the persona at a path current as the file changes.
type Watcher struct {
	path    string
	current atomic.Pointer[Character]
	logger  *zap.Logger

	// reloaded receives a value after every reload attempt, for tests.
	reloaded chan struct{}
}

// NewWatcher loads path once. Call Run to follow later edits.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Watcher{path: path, logger: logger}
	w.current.Store(c)
	return w, nil
}

// Current returns the most recently loaded persona.
func (w *Watcher) Current() *Character {
	return w.current.Load()
}

// Run reloads the persona on writes until ctx is cancelled. A file that fails
// to parse keeps the previous persona.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating character watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching character dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("character watcher error: %w", err)
		}
	}
}

func (w *Watcher) reload() {
	defer w.notify()

	c, err := Load(w.path)
	if err != nil {
		w.logger.Warn("character reload failed, keeping previous persona",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.current.Store(c)
	w.logger.Info("character reloaded", zap.String("name", c.Name))
}

func (w *Watcher) notify() {
	if w.reloaded == nil {
		return
	}
	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}
