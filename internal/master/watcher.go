// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package master

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/preforkd/internal/log"
)

// DefaultWatchDebounce collapses the burst of events an editor produces
// when saving a file.
const DefaultWatchDebounce = 250 * time.Millisecond

// ConfigWatcher calls a reload function after the config file changes.
//
// The parent directory is watched rather than the file, so a save that
// replaces the file through a rename is still seen.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	reload   func()
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// WatchConfig starts watching path. reload runs on its own goroutine once
// no further change has been seen for debounce.
func WatchConfig(path string, debounce time.Duration, reload func(), logger *slog.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &ConfigWatcher{
		path:     absPath,
		debounce: debounce,
		reload:   reload,
		watcher:  fsw,
		logger:   log.WithComponent(logger, "config-watcher").With(slog.String("path", absPath)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.eventLoop()

	w.logger.Info("watching config file")
	return w, nil
}

// Close stops the watcher and cancels any pending reload.
func (w *ConfigWatcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

func (w *ConfigWatcher) eventLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", log.Error(err))
		}
	}
}

func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	w.logger.Debug("config file changed", "op", event.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *ConfigWatcher) fire() {
	w.mu.Lock()
	w.timer = nil
	w.mu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
	}
	w.logger.Info("config file changed, requesting reload")
	w.reload()
}
