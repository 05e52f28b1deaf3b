package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// ReloadEvent carries a freshly loaded configuration, or the error that kept it from loading.
type ReloadEvent struct {
	Config *NodeConfig
	Err    error
}

// Watcher reloads node.yaml when it changes. It watches the directory rather
// than the file so editors that replace the file by rename are picked up.
type Watcher struct {
	path   string
	logger *slog.Logger
	events chan ReloadEvent
}

func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:   path,
		logger: logger.With("component", "config"),
		events: make(chan ReloadEvent, 4),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Base(w.path)

	go func() {
		defer fsw.Close()
		defer close(w.events)

		var timerC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Debug("config file changed", "path", ev.Name, "op", ev.Op.String())
				timerC = time.After(reloadDebounce)
			case <-timerC:
				timerC = nil
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Warn("config reload failed", "error", err)
				} else {
					w.logger.Info("config reloaded", "path", w.path)
				}
				select {
				case w.events <- ReloadEvent{Config: cfg, Err: err}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
