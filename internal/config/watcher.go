package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the delay for debouncing file system events. Editors
// often produce several events per save.
const DebounceDelay = 100 * time.Millisecond

// ReloadFunc receives the re-loaded configuration after the settings file
// changes on disk.
type ReloadFunc func(cfg *Config)

// Watcher monitors the settings file and re-loads the configuration when
// it changes. Environment variables keep their override priority on every
// reload.
//
// All public methods are safe for concurrent use.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	onReload ReloadFunc
	logger   *slog.Logger

	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

// NewWatcher creates a watcher for the settings file at path.
// Call Start() to begin watching and Close() when done.
func NewWatcher(path string, onReload ReloadFunc, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:  fsw,
		path:     path,
		onReload: onReload,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start begins watching the settings file's directory. Watching the
// directory rather than the file survives atomic-rename saves.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.eventLoop()
	return nil
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
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
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("settings watcher error", "error", err)
			}
		}
	}
}

// scheduleReload debounces bursts of events into a single reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(DebounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("failed to reload settings", "path", w.path, "error", err)
		}
		return
	}

	if w.logger != nil {
		w.logger.Info("settings reloaded", "path", w.path, "default_model", cfg.Model)
	}
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
