package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-rdg/engine/core"
)

// Editors tend to emit several events per save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the file at path whenever it changes and hands every valid
// configuration to fn. Invalid files are logged and skipped. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// watch the directory, files replaced by a rename drop their watch
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	core.LogDebug("Watching configuration file %s", abs)

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case e, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != abs {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			core.LogError(err.Error())

		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				core.LogWarn("Keeping previous configuration: %s", err)
				continue
			}
			core.LogInfo("Configuration reloaded from %s", abs)
			fn(cfg)

		case <-ctx.Done():
			return nil
		}
	}
}
