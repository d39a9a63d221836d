package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"endpointagent/internal/pkg/logger"
)

// FileWatcher drives Store.Reload off fsnotify write events on the base
// config file, debounced so a burst of writes from an editor or a package
// manager produces one reload instead of several.
type FileWatcher struct {
	store   *Store
	path    string
	delay   time.Duration
	fsw     *fsnotify.Watcher
	timer   *time.Timer
	mu      sync.Mutex
	closeCh chan struct{}
}

// NewFileWatcher starts watching path's containing directory (fsnotify
// can't watch a single file across editors that replace-on-save) and
// calls store.Reload, debounced by delay, whenever path itself changes.
func NewFileWatcher(store *Store, path string, delay time.Duration) (*FileWatcher, error) {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &FileWatcher{store: store, path: path, delay: delay, fsw: fsw, closeCh: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *FileWatcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		case <-w.closeCh:
			return
		}
	}
}

func (w *FileWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if err := w.store.Reload(); err != nil {
			logger.Errorf("config reload failed: %v", err)
		}
	})
}

// Close stops the watcher and releases its fsnotify handle.
func (w *FileWatcher) Close() error {
	close(w.closeCh)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
