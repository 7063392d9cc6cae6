package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler receives the freshly loaded configuration after a file
// change. Returning an error only logs; the previous config stays active
// for that handler.
type ReloadHandler func(cfg *Config) error

// Watcher hot-reloads the config file so loop budgets and collaborator
// knobs can be tuned without a restart. Changes that fail validation are
// logged and ignored.
type Watcher struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	handlers []ReloadHandler

	mu      sync.RWMutex
	current *Config

	// debounce collapses the editor write/rename bursts into one reload
	debounce time.Duration
}

// NewWatcher loads the file once and starts watching its directory.
// Watching the directory instead of the file survives atomic renames.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		logger:   logger,
		watcher:  fsw,
		current:  cfg,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Current returns the active configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a handler invoked after each successful reload.
func (w *Watcher) OnReload(h ReloadHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Run blocks processing file events until the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", zap.Error(err))
		case <-reload:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected, keeping previous config",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.mu.Lock()
	w.current = cfg
	handlers := append([]ReloadHandler(nil), w.handlers...)
	w.mu.Unlock()

	for _, h := range handlers {
		if err := h(cfg); err != nil {
			w.logger.Warn("config reload handler failed", zap.Error(err))
		}
	}
	w.logger.Info("configuration reloaded", zap.String("path", w.path))
}
