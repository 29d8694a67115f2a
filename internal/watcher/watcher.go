package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Handler is called with the watched path once changes settle
type Handler func(ctx context.Context, path string)

// Watcher reports changes of a single file. The parent directory is watched
// so that editors replacing the file atomically are still noticed.
type Watcher struct {
	path     string
	debounce time.Duration
	handler  Handler
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// New starts watching path. Events are delivered once Run is called.
func New(path string, debounce time.Duration, handler Handler) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		debounce: debounce,
		handler:  handler,
		watcher:  fsWatcher,
	}, nil
}

// Path returns the absolute watched path
func (w *Watcher) Path() string {
	return w.path
}

// Run processes events until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			log.Ctx(ctx).Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("change detected")
			w.schedule(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Ctx(ctx).Error().Err(err).Msg("Watcher error")
		}
	}
}

// schedule restarts the debounce timer
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.handler(ctx, w.path)
	})
}
