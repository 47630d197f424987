package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file when it changes on disk, so the wake
// threshold and debounce constants can be tuned against a live session.
type Watcher struct {
	fsw    *fsnotify.Watcher
	path   string
	logger zerolog.Logger
	onLoad func(*Config)
	done   chan struct{}
}

// NewWatcher watches the config file in the standard config directory and
// calls onLoad with the freshly parsed config after each change.
func NewWatcher(logger zerolog.Logger, onLoad func(*Config)) (*Watcher, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:    fsw,
		path:   filepath.Join(dir, "config.yaml"),
		logger: logger.With().Str("component", "config-watch").Logger(),
		onLoad: onLoad,
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	// Editors fire several write events per save; coalesce them.
	var pending *time.Timer
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		w.logger.Warn().Err(err).Msg("config reload failed, keeping previous")
		return
	}
	w.logger.Info().Msg("config reloaded")
	if w.onLoad != nil {
		w.onLoad(cfg)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
