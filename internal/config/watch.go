package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// watchDebounce collapses the burst of events editors emit for one save.
var watchDebounce = 500 * time.Millisecond

// Watch reloads path whenever it is written and hands each valid config to
// fn. Invalid rewrites are logged and skipped; the last good config stays in
// effect. It blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *logrus.Logger, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	// The directory survives rename-over-write saves; the file itself may not.
	dir, name := filepath.Split(absPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	log := logger.WithFields(logrus.Fields{"component": "config", "path": absPath})
	log.Info("watching config for changes")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				cfg, err := Load(absPath)
				if err != nil {
					log.WithError(err).Warn("config reload rejected")
					return
				}
				log.Info("config reloaded")
				fn(cfg)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("config watcher error")
		}
	}
}
