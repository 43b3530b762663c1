package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/doridoridoriand/classwatch/internal/log"
)

// Watch reloads path whenever it is written and passes the new Config to
// onChange. overrides are re-applied so CLI flags keep winning. A reload
// that fails is logged and the previous config stays active. Watch runs
// until ctx is cancelled.
//
// The parent directory is watched, so saves that replace the file by
// rename keep triggering reloads.
func Watch(ctx context.Context, path string, overrides CLIOverrides, logger *log.Logger, onChange func(*Config)) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	target := filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// Rename/Remove are followed by a Create for the new file
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path, overrides)
			logger.LogConfigLoad(err == nil, path, err)
			if err != nil {
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.LogError("config", err, map[string]interface{}{"path": path})
		}
	}
}
