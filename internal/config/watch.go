package config

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config at path whenever the file is written or replaced
// and passes every valid result to onChange. Invalid files are logged and
// ignored. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *log.Logger, onChange func(Config)) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	dir := filepath.Dir(target)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %q: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(ctx, target)
			if err != nil {
				logger.Printf("config reload failed: %v", err)
				continue
			}
			logger.Printf("config reloaded path=%s", target)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("config watcher error: %v", err)
		}
	}
}
