package pool

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"promptsynth/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a pool YAML file and invokes a callback with the reloaded
// pool when the file settles after a change. Long-running TUI sessions use it
// to pick up fragment edits without a restart.
type Watcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	path      string
	onReload  func(*Pool)
	lastEvent time.Time
	pending   bool
	debounce  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

// NewWatcher creates a watcher for the given pool file. onReload is called
// from the watcher goroutine with each successfully reloaded pool; invalid
// files are logged and skipped so a half-saved edit never replaces a good
// pool.
func NewWatcher(path string, onReload func(*Pool)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		path:     path,
		onReload: onReload,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory, not the file: editors replace files on save.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	logging.Pool("Watcher: watching %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryPool).Error("Watcher: close failed: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

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
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.lastEvent = time.Now()
			w.pending = true
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryPool).Error("Watcher: %v", err)
		case <-tick.C:
			w.mu.Lock()
			ready := w.pending && time.Since(w.lastEvent) >= w.debounce
			if ready {
				w.pending = false
			}
			w.mu.Unlock()
			if ready {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	p, err := LoadFile(w.path)
	if err != nil {
		logging.Get(logging.CategoryPool).Warn("Watcher: reload skipped: %v", err)
		return
	}
	logging.Pool("Watcher: reloaded pool with %d fragments", p.Size())
	w.onReload(p)
}
