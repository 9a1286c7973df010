// Copyright 2025 Kadir Pekel
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

package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads yamlPath on every write event and invokes onChange with
// the freshly loaded Config. Reload errors are logged and skipped; the
// previous in-memory Config is left untouched.
type Watcher struct {
	fsw      *fsnotify.Watcher
	yamlPath string
	envPath  string
	onChange func(Config)
	log      *slog.Logger
}

// NewWatcher starts watching the file at yamlPath itself (fsnotify.Add on
// the file, not on its containing directory).
func NewWatcher(yamlPath, envPath string, onChange func(Config), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(yamlPath); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, yamlPath: yamlPath, envPath: envPath, onChange: onChange, log: log}, nil
}

// Run blocks, reloading on every write/create event, until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.yamlPath, w.envPath, w.log)
			if err != nil {
				w.log.Warn("config: reload failed", "path", w.yamlPath, "error", err)
				continue
			}
			w.log.Info("config: reloaded", "path", w.yamlPath)
			if w.onChange != nil {
				w.onChange(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config: watcher error", "error", err)
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
