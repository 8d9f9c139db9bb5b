package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
)

const defaultWatchDebounce = 200 * time.Millisecond

// Watch reloads the config file whenever it changes and hands every
// successfully loaded config to onChange. It blocks until ctx is done.
// A file that fails to load is logged and the previous config stays active.
func (cm *Manager) Watch(ctx context.Context, logger types.Logger, onChange func(*types.ServiceConfig)) error {
	if cm.configPath == "" {
		return types.ErrConfigNotFound
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return types.WrapError(err, "failed to create config watcher")
	}
	defer watcher.Close()

	// Watch the directory so a replaced file is still seen.
	target := filepath.Clean(cm.configPath)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return types.WrapError(err, "failed to watch config directory")
	}

	debounce := cm.watchDebounce
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if err := cm.Load(); err != nil {
			logger.Error("Config reload failed, keeping previous config", zap.String("path", target), zap.Error(err))
			return
		}

		logger.Info("Config reloaded", zap.String("path", target))
		if onChange != nil {
			onChange(cm.GetConfig())
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}
