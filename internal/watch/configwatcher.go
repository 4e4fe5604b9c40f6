package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called after the config file settles following a change
type ChangeCallback func(path string)

// ConfigWatcher monitors one config file for edits. Editors replace files
// with rename/create sequences, so the parent directory is watched and
// events are debounced before the callback fires.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	path     string
	debounce time.Duration

	timer  *time.Timer
	dirty  bool
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConfigWatcher creates a watcher for the given config file
func NewConfigWatcher(path string, callback ChangeCallback) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &ConfigWatcher{
		watcher:  watcher,
		callback: callback,
		path:     abs,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Start begins watching for file changes
func (cw *ConfigWatcher) Start(ctx context.Context) {
	ctx, cw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-cw.watcher.Events:
				if !ok {
					return
				}
				cw.handleEvent(event)
			case _, ok := <-cw.watcher.Errors:
				if !ok {
					return
				}
				// Keep watching
			}
		}
	}()
}

// Stop stops watching for file changes
func (cw *ConfigWatcher) Stop() {
	if cw.cancel != nil {
		cw.cancel()
	}
	cw.watcher.Close()
}

func (cw *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != cw.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.dirty = true
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, cw.flush)
}

func (cw *ConfigWatcher) flush() {
	cw.mu.Lock()
	fire := cw.dirty
	cw.dirty = false
	cw.mu.Unlock()

	if fire && cw.callback != nil {
		cw.callback(cw.path)
	}
}

// SetDebounce sets the debounce duration for batching file changes
func (cw *ConfigWatcher) SetDebounce(d time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.debounce = d
}
