package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay absorbs the burst of events most editors emit on save.
const debounceDelay = 300 * time.Millisecond

// Reloader holds the active Config and swaps in a new one when the file
// changes on disk (fsnotify) or on SIGHUP (Unix, see reload_unix.go).
// Invalid files are rejected and the active config stays in place.
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	logger    *slog.Logger
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewReloader wraps an already-loaded config with reload machinery for
// the file it came from.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		current: initial,
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback invoked with the new config after each
// successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start spins up the file watcher and the SIGHUP handler. A watcher
// failure is logged and leaves SIGHUP as the only reload trigger.
func (r *Reloader) Start() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Error("config watcher unavailable", "error", err)
	} else if err := w.Add(r.path); err != nil {
		r.logger.Error("cannot watch config file", "path", r.path, "error", err)
		w.Close()
	} else {
		r.watcher = w
		r.logger.Info("watching config file", "path", r.path)
		go r.watch()
	}

	r.registerSignalHandler()
}

// Stop terminates the watcher and the signal handler.
func (r *Reloader) Stop() {
	close(r.stopCh)
	if r.watcher != nil {
		r.watcher.Close()
	}
}

// Reload re-reads the config file, and on success swaps it in and fires
// the callbacks. Returns whether the new config was accepted. Exported
// for the signal handler and tests.
func (r *Reloader) Reload() bool {
	newCfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload rejected, keeping current config",
			"path", r.path, "error", err)
		return false
	}

	r.mu.Lock()
	old := r.current
	r.current = newCfg
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logChanges(old, newCfg)
	for _, cb := range callbacks {
		cb(newCfg)
	}

	r.logger.Info("config reloaded", "path", r.path, "commands", len(newCfg.Commands))
	return true
}

func (r *Reloader) watch() {
	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			// Many editors save by writing a temp file and renaming it
			// over the original, which drops the watch on the old inode.
			if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				r.watcher.Add(r.path) //nolint:errcheck
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() { r.Reload() })
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("config watcher error", "error", err)
		case <-r.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// logChanges summarizes the operationally interesting differences between
// the outgoing and incoming config.
func (r *Reloader) logChanges(old, new *Config) {
	if len(old.Commands) != len(new.Commands) {
		r.logger.Info("command override count changed",
			"old", len(old.Commands),
			"new", len(new.Commands),
		)
	}

	oldDefaults := Resolve(DefaultProperties(), old.Defaults)
	newDefaults := Resolve(DefaultProperties(), new.Defaults)
	if oldDefaults != newDefaults {
		r.logger.Info("default command properties changed")
	}

	if old.Admin.Auth.Enabled != new.Admin.Auth.Enabled {
		r.logger.Info("admin auth toggled",
			"old", old.Admin.Auth.Enabled,
			"new", new.Admin.Auth.Enabled,
		)
	}
}
