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

// Package engine implements the file runtime (C9): the core
// orchestrator that composes the path parser, resolvers, worker
// selection and supervision into a single Dispatch entry point, and
// produces the route/worker snapshots the meta boundary consumes.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/fluxion-run/fluxion/internal/logging"
	"github.com/fluxion-run/fluxion/internal/metrics"
	"github.com/fluxion-run/fluxion/internal/pathsafe"
	"github.com/fluxion-run/fluxion/internal/protocol"
	"github.com/fluxion-run/fluxion/internal/resolve"
	"github.com/fluxion-run/fluxion/internal/selector"
	"github.com/fluxion-run/fluxion/internal/supervisor"
)

// WorkerSpec is the startup input describing one worker binding
// (spec.md's WorkerSpec entity).
type WorkerSpec struct {
	ID      string
	DBSet   map[string]struct{}
	Limits  *supervisor.Limits // nil uses supervisor.DefaultLimits()
}

// Config configures the engine.
type Config struct {
	Dir               string
	DeclaredDatabases map[string]struct{}
	Workers           []WorkerSpec
	Logger            logging.Logger
	Tracer            trace.Tracer     // nil uses a no-op tracer
	Metrics           *metrics.Registry // nil disables instrumentation
}

// Outcome classifies a Dispatch result.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeStatic
	OutcomeHandler
)

// Result is what Dispatch decided for one request.
type Result struct {
	Outcome  Outcome
	Static   *resolve.StaticFile
	Response *protocol.Response
}

// Engine is the file runtime's core orchestrator.
type Engine struct {
	root    string
	logger  logging.Logger
	tracer  trace.Tracer
	metrics *metrics.Registry

	pool           *selector.Pool
	inspectBinding *selector.Binding

	metaMu    sync.Mutex
	metaCache map[string]protocol.Meta // key: filePath + "@" + version

	versionMu        sync.Mutex
	lastKnown        map[string]string // filePath -> last dispatched version, for load/reload logging
	lastRestartCount map[string]int    // worker id -> restart count last observed by SyncWorkerMetrics

	closers []func()
}

// New builds supervisors for every configured worker, wires the
// selector pool (synthesizing the all-db fallback when absent), and
// returns a ready-to-dispatch Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOp()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = trace.NewNoopTracerProvider().Tracer("fluxion")
	}

	e := &Engine{
		root:      cfg.Dir,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		metrics:   cfg.Metrics,
		metaCache:        make(map[string]protocol.Meta),
		lastKnown:        make(map[string]string),
		lastRestartCount: make(map[string]int),
	}

	bindings := make([]*selector.Binding, 0, len(cfg.Workers))
	for _, spec := range cfg.Workers {
		limits := supervisor.DefaultLimits()
		if spec.Limits != nil {
			limits = *spec.Limits
		}
		sup := supervisor.New(spec.ID, spec.DBSet, limits, cfg.Logger)
		e.closers = append(e.closers, sup.Close)
		bindings = append(bindings, &selector.Binding{
			ID:         spec.ID,
			DBSet:      spec.DBSet,
			Supervisor: sup,
		})
	}

	pool, err := selector.NewPool(bindings, cfg.DeclaredDatabases)
	if err != nil {
		return nil, err
	}
	e.pool = pool

	// selector.NewPool synthesizes a fallback binding by value only
	// (it has no supervisor.Limits/Logger to build one); give it a
	// live supervisor here so it is actually dispatchable.
	for _, b := range pool.Bindings() {
		if b.Supervisor == nil {
			sup := supervisor.New(b.ID, b.DBSet, supervisor.DefaultLimits(), cfg.Logger)
			e.closers = append(e.closers, sup.Close)
			b.Supervisor = sup
		}
	}

	for _, b := range pool.Bindings() {
		if b.IsFallbackAllDB {
			e.inspectBinding = b
			break
		}
	}
	if e.inspectBinding == nil {
		for _, b := range pool.Bindings() {
			if setEquals(b.DBSet, cfg.DeclaredDatabases) {
				e.inspectBinding = b
				break
			}
		}
	}
	if e.inspectBinding == nil && len(pool.Bindings()) > 0 {
		e.inspectBinding = pool.Bindings()[0]
	}

	return e, nil
}

// Close tears down every supervisor owned by this engine.
func (e *Engine) Close() {
	for _, closer := range e.closers {
		closer()
	}
}

// Dispatch implements spec.md §4.9's per-request algorithm: path parse,
// handler resolution + worker dispatch, fallthrough to static, and
// finally not-found.
func (e *Engine) Dispatch(ctx context.Context, r *http.Request, body []byte) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Dispatch")
	defer span.End()

	start := time.Now()
	result, err := e.dispatch(ctx, r, body)
	if e.metrics != nil && err == nil {
		outcome := outcomeLabel(result.Outcome)
		e.metrics.DispatchTotal.WithLabelValues(outcome).Inc()
		e.metrics.DispatchLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (e *Engine) dispatch(ctx context.Context, r *http.Request, body []byte) (*Result, error) {
	parsed, ok := pathsafe.Parse(r.URL.Path)
	if !ok {
		return &Result{Outcome: OutcomeNotFound}, nil
	}

	literalMjs := hasMjsSuffix(r.URL.Path)
	handler, ok, err := resolve.ResolveHandler(e.root, parsed.Segments, literalMjs)
	if err != nil {
		return nil, err
	}
	if ok {
		return e.dispatchHandler(ctx, r, body, handler)
	}

	if resolve.IsStaticMethod(r.Method) {
		static, ok, err := resolve.ResolveStatic(e.root, parsed.Segments)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Result{Outcome: OutcomeStatic, Static: &static}, nil
		}
	}

	return &Result{Outcome: OutcomeNotFound}, nil
}

func outcomeLabel(o Outcome) string {
	switch o {
	case OutcomeHandler:
		return "handler"
	case OutcomeStatic:
		return "static"
	default:
		return "not_found"
	}
}

func (e *Engine) dispatchHandler(ctx context.Context, r *http.Request, body []byte, handler resolve.Handler) (*Result, error) {
	meta, err := e.metaFor(ctx, handler)
	if err != nil {
		return nil, err
	}

	binding, err := e.pool.Select(toSet(meta.DB))
	if err != nil {
		return nil, err
	}

	e.logTransition(handler)

	msg := protocol.Execute{
		ID:       protocol.NewID(),
		FilePath: handler.AbsolutePath,
		Version:  handler.Version,
		Method:   r.Method,
		URL:      r.URL.String(),
		Headers:  r.Header,
		Body:     body,
		IP:       clientIP(r),
	}

	result, err := binding.Supervisor.Execute(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, result.Err
	}

	// A successful execution is authoritative about the handler's
	// declared db set; refresh the meta cache so later dispatches skip
	// the inspect round-trip even on a cold cache.
	if result.Meta != nil {
		e.metaMu.Lock()
		e.metaCache[metaKey(handler.AbsolutePath, handler.Version)] = *result.Meta
		e.metaMu.Unlock()
	}

	return &Result{Outcome: OutcomeHandler, Response: result.Response}, nil
}

// metaFor returns a handler's declared db-set metadata, consulting the
// cache keyed by (filePath, version) before falling back to an Inspect
// round-trip against the inspect-capable binding (spec.md §4.9).
func (e *Engine) metaFor(ctx context.Context, handler resolve.Handler) (protocol.Meta, error) {
	key := metaKey(handler.AbsolutePath, handler.Version)

	e.metaMu.Lock()
	if meta, ok := e.metaCache[key]; ok {
		e.metaMu.Unlock()
		return meta, nil
	}
	e.metaMu.Unlock()

	if e.inspectBinding == nil {
		return protocol.Meta{}, fmt.Errorf("engine: no inspect-capable worker binding configured")
	}

	result, err := e.inspectBinding.Supervisor.Inspect(ctx, protocol.Inspect{
		ID:       protocol.NewID(),
		FilePath: handler.AbsolutePath,
		Version:  handler.Version,
	})
	if err != nil {
		return protocol.Meta{}, err
	}
	if !result.OK {
		return protocol.Meta{}, result.Err
	}

	meta := protocol.Meta{}
	if result.Meta != nil {
		meta = *result.Meta
	}

	e.metaMu.Lock()
	e.metaCache[key] = meta
	e.metaMu.Unlock()

	return meta, nil
}

func (e *Engine) logTransition(handler resolve.Handler) {
	e.versionMu.Lock()
	prev, seen := e.lastKnown[handler.AbsolutePath]
	e.lastKnown[handler.AbsolutePath] = handler.Version
	e.versionMu.Unlock()

	if !seen {
		e.logger.Info("handler loaded", "path", handler.RelativePath, "version", handler.Version)
	} else if prev != handler.Version {
		e.logger.Info("handler reloaded", "path", handler.RelativePath, "from_version", prev, "to_version", handler.Version)
	}
}

func metaKey(filePath, version string) string { return filePath + "@" + version }

func toSet(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func setEquals(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func hasMjsSuffix(pathname string) bool {
	const suffix = ".mjs"
	return len(pathname) >= len(suffix) && pathname[len(pathname)-len(suffix):] == suffix
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
