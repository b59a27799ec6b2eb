package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/correomqtt/pluginhost/api"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors produce on save
const DefaultDebounce = 150 * time.Millisecond

// Watcher watches the configuration files of a Store and reloads it when
// one of them changes
type Watcher struct {
	watcher     *fsnotify.Watcher
	store       *Store
	logger      api.Logger
	onReload    func(cfg *Config)
	debounce    time.Duration
	mutex       sync.Mutex
	dirs        map[string]struct{}
	files       map[string]struct{}
	patterns    []string
	timer       *time.Timer
	stopChannel chan struct{}
	stopOnce    sync.Once
}

// NewWatcher creates a new config watcher. onReload is called after every
// successful reload and may be nil.
func NewWatcher(store *Store, logger api.Logger, onReload func(cfg *Config)) (*Watcher, error) {
	if store.Path() == "" {
		return nil, fmt.Errorf("config store has no backing file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:     watcher,
		store:       store,
		logger:      logger,
		onReload:    onReload,
		debounce:    DefaultDebounce,
		dirs:        make(map[string]struct{}),
		files:       make(map[string]struct{}),
		stopChannel: make(chan struct{}),
	}, nil
}

// SetDebounce changes the delay between the last file event and the reload
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.debounce = d
}

// Start starts the watcher
func (w *Watcher) Start() error {
	if err := w.sync(w.store.Config()); err != nil {
		return err
	}
	go w.watchLoop()
	w.logger.Info("Config watcher started", "path", w.store.Path())
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChannel)

		w.mutex.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mutex.Unlock()

		if err := w.watcher.Close(); err != nil {
			w.logger.Error("Failed to close fsnotify watcher", "error", err)
		}
		w.logger.Info("Config watcher stopped")
	})
	return nil
}

// sync watches the directories of every file and include pattern of cfg.
// Directories are watched instead of files so that editors replacing a file
// by rename are still noticed.
func (w *Watcher) sync(cfg *Config) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.files = make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, file := range cfg.Sources() {
		w.files[file] = struct{}{}
		dirs[filepath.Dir(file)] = struct{}{}
	}
	w.patterns = cfg.IncludePatterns()
	for _, pattern := range w.patterns {
		dirs[filepath.Dir(pattern)] = struct{}{}
	}

	for dir := range dirs {
		if _, watched := w.dirs[dir]; watched {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			// include directories may not exist yet
			w.logger.Debug("Cannot watch config directory", "dir", dir, "error", err)
			continue
		}
		w.dirs[dir] = struct{}{}
		w.logger.Debug("Started watching config directory", "dir", dir)
	}
	return nil
}

// watchLoop is the main event loop for file watching
func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopChannel:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if w.relevant(event.Name) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)
		}
	}
}

// relevant reports whether a changed path belongs to the configuration
func (w *Watcher) relevant(name string) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	name = filepath.Clean(name)
	if _, ok := w.files[name]; ok {
		return true
	}
	for _, pattern := range w.patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopChannel:
		return
	default:
	}

	cfg, err := w.store.Reload()
	if err != nil {
		w.logger.Error("Failed to reload config, keeping previous", "path", w.store.Path(), "error", err)
		return
	}
	if err := w.sync(cfg); err != nil {
		w.logger.Error("Failed to update watched config paths", "error", err)
	}

	w.logger.Info("Config reloaded", "path", w.store.Path(), "generation", w.store.Generation())
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
