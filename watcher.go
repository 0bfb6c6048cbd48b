package tutorbook

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/oarkflow/tutorbook/logger"
)

// ConfigWatcher reloads the engine's config file when it changes on disk.
// Claim and routing edits take effect without a restart.
type ConfigWatcher struct {
	path   string
	engine *Engine
	loader *ConfigLoader
	log    logger.Logger
}

func NewConfigWatcher(path string, engine *Engine) *ConfigWatcher {
	return &ConfigWatcher{
		path:   path,
		engine: engine,
		loader: NewConfigLoader(),
		log:    logger.NewPhusluLogger(),
	}
}

func (w *ConfigWatcher) SetLogger(l logger.Logger) {
	if l != nil {
		w.log = l
	}
}

// Load reads and applies the file once.
func (w *ConfigWatcher) Load(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	var cfg *Config
	if filepath.Ext(w.path) == ".json" {
		cfg, err = w.loader.LoadJSON(data)
	} else {
		cfg, err = w.loader.LoadYAML(data)
	}
	if err != nil {
		return err
	}
	return w.engine.ApplyConfig(ctx, cfg)
}

// Watch applies the file now, then keeps reapplying on every write until ctx
// is done. Editors that replace the file are handled by watching the parent
// directory.
func (w *ConfigWatcher) Watch(ctx context.Context) error {
	if err := w.Load(ctx); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Clean(event.Name) != target {
				continue
			}
			if err := w.Load(ctx); err != nil {
				// Keep serving the last good config.
				w.log.Error("config reload failed", "path", w.path, "error", err.Error())
				continue
			}
			w.log.Info("config reloaded", "path", w.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("config watcher error", "error", err.Error())
		}
	}
}
