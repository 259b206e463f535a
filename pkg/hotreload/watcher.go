package hotreload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Loader validates and applies a configuration file.
type Loader interface {
	Validate(path string) error
	Load(path string) error
}

// ConfigWatcher reloads a single configuration file when it changes.
// The parent directory is watched so that editors which replace the file
// by rename are still noticed.
type ConfigWatcher struct {
	path       string
	loader     Loader
	watcher    *fsnotify.Watcher
	debounce   time.Duration
	onChange   func(path string, err error)
	running    atomic.Bool
	reloadChan chan struct{}

	statsMu sync.RWMutex
	stats   WatcherStats
}

// WatcherStats tracks reload statistics.
type WatcherStats struct {
	ReloadsTotal   int64     `json:"reloads_total"`
	ReloadsSuccess int64     `json:"reloads_success"`
	ReloadsFailed  int64     `json:"reloads_failed"`
	LastReload     time.Time `json:"last_reload,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorTime  time.Time `json:"last_error_time,omitempty"`
}

type WatcherConfig struct {
	Path     string
	Loader   Loader
	Debounce time.Duration // collapses bursts of writes into one reload
	OnChange func(path string, err error)
}

func NewConfigWatcher(config WatcherConfig) (*ConfigWatcher, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if config.Loader == nil {
		return nil, fmt.Errorf("config loader is required")
	}
	abs, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	debounce := config.Debounce
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}

	return &ConfigWatcher{
		path:       abs,
		loader:     config.Loader,
		debounce:   debounce,
		onChange:   config.OnChange,
		reloadChan: make(chan struct{}, 1),
	}, nil
}

// Start begins watching. Goroutines exit when ctx is done or Stop is called.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		w.running.Store(false)
		return fmt.Errorf("watching directory: %w", err)
	}
	w.watcher = watcher

	go w.processEvents(ctx, watcher)
	go w.processReloads(ctx)
	return nil
}

func (w *ConfigWatcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	var (
		pending    bool
		lastChange time.Time
	)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending = true
				lastChange = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.recordError(fmt.Sprintf("watcher error: %v", err))

		case <-ticker.C:
			if pending && time.Since(lastChange) >= w.debounce {
				pending = false
				w.queueReload()
			}

		case <-ctx.Done():
			return
		}
	}
}

func (w *ConfigWatcher) queueReload() {
	select {
	case w.reloadChan <- struct{}{}:
	default:
		// a reload is already queued
	}
}

func (w *ConfigWatcher) processReloads(ctx context.Context) {
	for {
		select {
		case <-w.reloadChan:
			w.handleReload()
		case <-ctx.Done():
			return
		}
	}
}

func (w *ConfigWatcher) handleReload() {
	w.statsMu.Lock()
	w.stats.ReloadsTotal++
	w.statsMu.Unlock()

	if err := w.loader.Validate(w.path); err != nil {
		w.recordError(fmt.Sprintf("invalid config %s: %v", w.path, err))
		w.notify(err)
		return
	}
	if err := w.loader.Load(w.path); err != nil {
		w.recordError(fmt.Sprintf("loading config %s: %v", w.path, err))
		w.notify(err)
		return
	}

	w.statsMu.Lock()
	w.stats.ReloadsSuccess++
	w.stats.LastReload = time.Now()
	w.statsMu.Unlock()
	w.notify(nil)
}

func (w *ConfigWatcher) notify(err error) {
	if w.onChange != nil {
		w.onChange(w.path, err)
	}
}

func (w *ConfigWatcher) recordError(err string) {
	w.statsMu.Lock()
	w.stats.ReloadsFailed++
	w.stats.LastError = err
	w.stats.LastErrorTime = time.Now()
	w.statsMu.Unlock()
}

func (w *ConfigWatcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *ConfigWatcher) Stats() WatcherStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}

// TriggerReload queues a reload without waiting for a file event.
func (w *ConfigWatcher) TriggerReload() error {
	if !w.running.Load() {
		return fmt.Errorf("watcher not running")
	}
	w.queueReload()
	return nil
}

// Path is the absolute path being watched.
func (w *ConfigWatcher) Path() string { return w.path }
