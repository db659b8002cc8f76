// Copyright 2026 The Fluxion Authors
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

package engine

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch starts a best-effort filesystem watcher over the dynamic
// directory that logs create/write/remove/rename events. It never
// drives reload decisions itself — version derivation at request time
// (C2) remains the only source of truth for cache validity — it exists
// purely to give operators visibility into drops as they land, in the
// teacher's style of optional, no-op-by-default observability hooks.
//
// Watch returns once ctx is canceled or the underlying watcher fails to
// start; callers typically run it in its own goroutine.
func (e *Engine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addTreeToWatcher(watcher, e.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			e.handleWatchEvent(watcher, ev)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("watch error", "error", watchErr)
		}
	}
}

func (e *Engine) handleWatchEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, "_") {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			_ = addTreeToWatcher(watcher, ev.Name)
		}
	}

	e.logger.Debug("dynamic directory change", "path", ev.Name, "op", ev.Op.String())
}

func addTreeToWatcher(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() != filepath.Base(root) && strings.HasPrefix(d.Name(), "_") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
