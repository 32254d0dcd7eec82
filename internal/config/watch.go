package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the manager's config whenever its backing file changes on disk,
// swapping the in-memory value atomically via Set. Errors reported by the
// watcher are logged and watching continues; Watch returns when the watcher
// cannot be set up or its channels are closed, so callers run it in its own
// goroutine. onReload, if
// non-nil, runs after each successful reload (e.g. to drop a now-stale
// transformer chain cache keyed on the old config's transformer specs).
func (m *Manager) Watch(logger *slog.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path := m.GetPath()
	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := m.Load()
			if err != nil {
				logger.Error("reload config", "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			if onReload != nil {
				onReload(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
