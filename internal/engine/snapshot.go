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
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fluxion-run/fluxion/internal/fsversion"
	"github.com/fluxion-run/fluxion/internal/resolve"
	"github.com/fluxion-run/fluxion/internal/supervisor"
)

// HandlerRoute is one entry in a route snapshot's handler list.
type HandlerRoute struct {
	Route        string
	RelativePath string
	Version      string
}

// StaticRoute is one entry in a route snapshot's static-file list.
type StaticRoute struct {
	Route        string
	RelativePath string
}

// RouteSnapshot is a point-in-time view of every routable file under the
// dynamic directory (spec.md §4.9).
type RouteSnapshot struct {
	Handlers []HandlerRoute
	Statics  []StaticRoute
}

type handlerCandidate struct {
	relPath  string
	version  string
	priority int // 0 = index.mjs, 1 = sibling .mjs
}

// RouteSnapshot walks the dynamic directory, skipping "_"-prefixed
// directories entirely, and groups handlers by route — keeping
// index.mjs when it collides with a sibling "X.mjs" (priority 0 < 1).
func (e *Engine) RouteSnapshot() (RouteSnapshot, error) {
	byRoute := make(map[string]handlerCandidate)
	var statics []StaticRoute

	walkErr := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == e.root {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "_") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(e.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if strings.HasSuffix(rel, ".mjs") {
			version, ok, verErr := fsversion.Of(path)
			if verErr != nil {
				return verErr
			}
			if !ok {
				return nil
			}
			route := resolve.Route(rel)
			priority := 1
			if filepath.Base(rel) == "index.mjs" {
				priority = 0
			}
			if existing, found := byRoute[route]; !found || priority < existing.priority {
				byRoute[route] = handlerCandidate{relPath: rel, version: version, priority: priority}
			}
			return nil
		}

		statics = append(statics, StaticRoute{Route: "/" + rel, RelativePath: rel})
		return nil
	})
	if walkErr != nil {
		return RouteSnapshot{}, walkErr
	}

	handlers := make([]HandlerRoute, 0, len(byRoute))
	for route, c := range byRoute {
		handlers = append(handlers, HandlerRoute{Route: route, RelativePath: c.relPath, Version: c.version})
	}
	sort.Slice(handlers, func(i, j int) bool { return handlers[i].Route < handlers[j].Route })
	sort.Slice(statics, func(i, j int) bool { return statics[i].Route < statics[j].Route })

	return RouteSnapshot{Handlers: handlers, Statics: statics}, nil
}

// WorkerSnapshot is a per-binding view of a worker's status, combining
// the supervisor's internal snapshot with the binding's selection
// metadata (spec.md §6).
type WorkerSnapshot struct {
	ID              string
	DBSet           []string
	IsFallbackAllDB bool
	supervisor.Snapshot
}

// WorkerSnapshot returns a snapshot of every worker binding in this
// engine's pool.
func (e *Engine) WorkerSnapshot() []WorkerSnapshot {
	bindings := e.pool.Bindings()
	out := make([]WorkerSnapshot, 0, len(bindings))
	for _, b := range bindings {
		names := make([]string, 0, len(b.DBSet))
		for name := range b.DBSet {
			names = append(names, name)
		}
		sort.Strings(names)

		var snap supervisor.Snapshot
		if b.Supervisor != nil {
			snap = b.Supervisor.Snapshot()
		}
		out = append(out, WorkerSnapshot{
			ID:              b.ID,
			DBSet:           names,
			IsFallbackAllDB: b.IsFallbackAllDB,
			Snapshot:        snap,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SyncWorkerMetrics refreshes the gauge/counter collectors from a fresh
// worker snapshot. It is a no-op when no metrics.Registry was configured.
// Called just before serving /_fluxion/metrics, matching the teacher's
// pull-based Prometheus collection model rather than pushing on every
// state transition.
func (e *Engine) SyncWorkerMetrics() {
	if e.metrics == nil {
		return
	}
	for _, w := range e.WorkerSnapshot() {
		e.metrics.Inflight.WithLabelValues(w.ID).Set(float64(w.Inflight))
		if w.Memory != nil {
			e.metrics.HeapUsedBytes.WithLabelValues(w.ID).Set(float64(w.Memory.HeapUsed))
		}

		e.versionMu.Lock()
		prev := e.lastRestartCount[w.ID]
		e.lastRestartCount[w.ID] = w.RestartCount
		e.versionMu.Unlock()

		if delta := w.RestartCount - prev; delta > 0 {
			reason := w.LastRestartReason
			if reason == "" {
				reason = "unknown"
			}
			e.metrics.Restarts.WithLabelValues(w.ID, reason).Add(float64(delta))
		}
	}
}
