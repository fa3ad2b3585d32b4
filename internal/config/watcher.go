package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs editors that write a config file in several rapid
// fsnotify events (truncate + write + rename).
const reloadDebounce = 200 * time.Millisecond

// Watcher watches the TOML config file on disk and calls a callback with
// the freshly loaded Config whenever it changes, so provider credentials
// and model ids can rotate without restarting the service — the teacher's
// pkg/index.Watcher generalized from re-indexing Go source files to
// reloading a single TOML file.
type Watcher struct {
	path     string
	onReload func(*Config, error)
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewWatcher creates a Watcher for path. onReload is invoked from a
// background goroutine after each debounced change; it receives either the
// newly loaded Config or the error encountered loading it.
func NewWatcher(path string, onReload func(*Config, error)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	if err := fsWatcher.Add(path); err != nil {
		// The file may not exist yet; watch its parent directory instead so
		// a later create/rename into place is still observed.
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if addErr := fsWatcher.Add(dir); addErr != nil {
				fsWatcher.Close()
				return nil, fmt.Errorf("watch config path: %w", err)
			}
		}
	}

	return &Watcher{
		path:     path,
		onReload: onReload,
		watcher:  fsWatcher,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	var debounceTimer *time.Timer

	fire := func() {
		cfg, err := Load(w.path)
		w.onReload(cfg, err)
	}

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, fire)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "config watcher error: %v\n", err)
		}
	}
}
