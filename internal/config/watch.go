package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

// Watch reloads path whenever it is written and passes the new Config to
// onChange. A reload that fails to parse or validate is logged and the
// previous config stays in effect. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger.Info("watching config for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// editors that save atomically replace the file, which shows up as Create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Error("config reload failed, keeping previous config", "path", path, "err", err)
				continue
			}

			logger.Info("config reloaded", "path", path)
			onChange(cfg)

			// the inode may have changed
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "err", err)
		}
	}
}
