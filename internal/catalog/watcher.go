package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates a Loader when its catalog file changes on disk. The
// parent directory is watched so editors that save via rename are still seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	path     string
	debounce time.Duration
	onChange func()
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	pending bool
	lastAt  time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewWatcher(path string, loader *Loader, onChange func(), logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Watcher{
		watcher:  w,
		loader:   loader,
		path:     abs,
		debounce: 300 * time.Millisecond,
		onChange: onChange,
		logger:   logger.Named("catalog_watcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.logger.Info("watching catalog file", zap.String("path", w.path))
	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("closing catalog watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounce / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.pending = true
	w.lastAt = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastAt) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	w.logger.Info("catalog file changed", zap.String("path", w.path))
	w.loader.Invalidate()
	if w.onChange != nil {
		w.onChange()
	}
}
