package config

import (
	"bytes"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ylcn91/agentctl/pkg/log"
)

// debounceWindow coalesces bursts of filesystem events from editors that
// write-then-rename.
const debounceWindow = 500 * time.Millisecond

// Watcher re-loads the config file when it changes on disk and notifies
// subscribers only when the canonical serialised form differs from the last
// emission. Editor re-saves producing equivalent content are ignored.
type Watcher struct {
	path string

	mu       sync.Mutex
	last     []byte
	onChange func(*Config)

	fsw    *fsnotify.Watcher
	timer  *time.Timer
	stopCh chan struct{}
	once   sync.Once
}

// NewWatcher creates a watcher for the config at path. onChange runs on the
// watcher goroutine; keep it quick.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
	}

	if cfg, err := Load(path); err == nil {
		if data, err := cfg.Marshal(); err == nil {
			w.last = data
		}
	}

	// Watch the directory, not the file: atomic saves replace the inode.
	if err := fsw.Add(dirOf(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Stop shuts the watcher down. Idempotent.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		w.fsw.Close()
	})
}

func (w *Watcher) run() {
	logger := log.WithComponent("config-watcher")
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("filesystem watch error")
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.reload)
}

func (w *Watcher) reload() {
	logger := log.WithComponent("config-watcher")

	cfg, err := Load(w.path)
	if err != nil {
		logger.Warn().Err(err).Msg("config reload failed")
		return
	}
	data, err := cfg.Marshal()
	if err != nil {
		logger.Warn().Err(err).Msg("config canonicalise failed")
		return
	}

	w.mu.Lock()
	changed := !bytes.Equal(data, w.last)
	if changed {
		w.last = data
	}
	w.mu.Unlock()

	if !changed {
		return
	}

	logger.Info().Msg("config changed, notifying")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
