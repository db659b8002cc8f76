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

// Package workerproc implements the handler worker (C6): a long-lived,
// single-threaded execution unit holding its own JavaScript runtime and
// a process-local module cache keyed by (filePath, version).
//
// Fluxion has no access to V8 isolates, so a worker here is a goroutine
// that owns exactly one goja.Runtime wrapped in an event loop. The event
// loop gives handler code access to Promises, async/await and
// setTimeout while still letting the worker run one job to completion
// before picking up the next — the Go-level analogue of a single
// isolate's single-threaded execution model.
package workerproc

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"

	"github.com/fluxion-run/fluxion/internal/protocol"
)

// Options configures a worker at boot. These mirror the bootstrap
// parameters a real isolate would receive.
type Options struct {
	WorkerID              string
	DBSet                 map[string]struct{}
	MemorySampleInterval  time.Duration
	MaxResponseBytes      int
}

// SampleFunc receives periodic, unsolicited memory samples. It must not
// block the worker.
type SampleFunc func(protocol.MemorySample)

type loadedModule struct {
	version string
	handler goja.Callable
	meta    protocol.Meta
}

// Worker is a single isolated handler-execution unit.
type Worker struct {
	opts Options
	loop *eventloop.EventLoop

	mu      sync.Mutex // serializes Execute/Inspect; the loop itself is single-threaded
	modules map[string]*loadedModule

	sampleFn SampleFunc
	stopOnce sync.Once
	stopCh   chan struct{}

	// attributedAlloc tracks this worker's own allocation, not the
	// process's. Go has a single shared heap across all goroutines, so
	// there is no runtime API that reports memory used by one worker
	// the way a separate OS process or a V8 isolate would. Each Execute
	// call instead measures the delta in runtime.MemStats.TotalAlloc
	// (monotonically increasing, immune to GC) immediately before and
	// after running the handler and adds it here, so one worker's
	// sample can never be inflated by another worker's concurrent
	// allocation. The counter is cumulative, not a live heap size, and
	// resets to zero only when the worker itself is replaced (restart
	// or process exit). RSS and external memory below stay process-wide;
	// Go has no per-goroutine equivalent of those.
	attributedAlloc atomic.Uint64
}

// New creates a worker. Call Start before Execute/Inspect.
func New(opts Options, sampleFn SampleFunc) *Worker {
	if opts.MemorySampleInterval <= 0 {
		opts.MemorySampleInterval = 5 * time.Second
	}
	return &Worker{
		opts:     opts,
		loop:     eventloop.NewEventLoop(),
		modules:  make(map[string]*loadedModule),
		sampleFn: sampleFn,
		stopCh:   make(chan struct{}),
	}
}

// Start boots the worker's event loop and memory sampler. Sampling is
// never on the request-handling critical path.
func (w *Worker) Start() {
	w.loop.Start()
	go w.sampleLoop()
}

// Close tears the worker down. It is the only way to truly release a
// prior module version's closures, per the load protocol below.
func (w *Worker) Close() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.loop.Stop()
	})
}

func (w *Worker) sampleLoop() {
	ticker := time.NewTicker(w.opts.MemorySampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.sampleFn == nil {
				continue
			}
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			w.sampleFn(protocol.MemorySample{
				HeapUsed: int64(w.attributedAlloc.Load()),
				RSS:      int64(ms.Sys),
				External: int64(ms.HeapIdle),
				// goja has no off-heap typed-array pool distinct from the
				// Go heap; ArrayBuffers share the Go allocator.
				ArrayBuffers: 0,
			})
		}
	}
}

// Execute loads filePath at version if needed and runs its handler
// against the synthesized request described by msg.
func (w *Worker) Execute(msg protocol.Execute) *protocol.Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	result := &protocol.Result{ID: msg.ID}

	var mod *loadedModule
	var loadErr *protocol.Error
	w.loop.Run(func(vm *goja.Runtime) {
		mod, loadErr = w.resolveModule(vm, msg.FilePath, msg.Version)
	})
	if loadErr != nil {
		result.Err = loadErr
		return result
	}

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	var sink *responseSink
	var runErr *protocol.Error
	w.loop.Run(func(vm *goja.Runtime) {
		sink = newResponseSink(vm, w.opts.MaxResponseBytes)
		req := buildRequest(vm, msg)
		ctx := buildContext(vm, w.opts.WorkerID, w.opts.DBSet)

		_, callErr := mod.handler(goja.Undefined(), req, sink.jsObject(), ctx)
		if callErr != nil {
			runErr = translateJSError(callErr)
			return
		}
		if sink.exceeded {
			runErr = &protocol.Error{
				Name:    "ResponseTooLargeError",
				Message: "worker response too large",
				Code:    protocol.CodeResponseTooBig,
			}
		}
	})

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	w.attributedAlloc.Add(after.TotalAlloc - before.TotalAlloc)

	result.ElapsedMs = time.Since(start).Milliseconds()
	result.HeapUsed = int64(w.attributedAlloc.Load())

	if runErr != nil {
		result.Err = runErr
		return result
	}

	result.OK = true
	result.Meta = &protocol.Meta{DB: mod.meta.DB}
	result.Response = &protocol.Response{
		Status:  sink.status,
		Headers: sink.headers,
		Body:    sink.body.Bytes(),
	}
	return result
}

// Inspect loads filePath at version if needed and reports only its
// declared metadata, without running the handler.
func (w *Worker) Inspect(msg protocol.Inspect) *protocol.InspectResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	result := &protocol.InspectResult{ID: msg.ID}
	var mod *loadedModule
	var loadErr *protocol.Error
	w.loop.Run(func(vm *goja.Runtime) {
		mod, loadErr = w.resolveModule(vm, msg.FilePath, msg.Version)
	})
	if loadErr != nil {
		result.Err = loadErr
		return result
	}
	result.OK = true
	result.Meta = &protocol.Meta{DB: mod.meta.DB}
	return result
}

// resolveModule implements the load protocol from spec.md §4.6. It must
// run on the loop goroutine (called from within loop.Run).
func (w *Worker) resolveModule(vm *goja.Runtime, filePath, version string) (*loadedModule, *protocol.Error) {
	if cached, ok := w.modules[filePath]; ok {
		if cached.version == version {
			return cached, nil
		}
		return nil, &protocol.Error{
			Name:    "VersionMismatchError",
			Message: fmt.Sprintf("worker has stale version of %s cached", filePath),
			Code:    protocol.CodeVersionMismatch,
		}
	}

	mod, err := w.loadModule(vm, filePath, version)
	if err != nil {
		return nil, err
	}
	w.modules[filePath] = mod
	return mod, nil
}

func (w *Worker) loadModule(vm *goja.Runtime, filePath, version string) (*loadedModule, *protocol.Error) {
	handler, db, err := compileHandlerFile(vm, filePath)
	if err != nil {
		return nil, err
	}
	for _, name := range db {
		if _, ok := w.opts.DBSet[name]; !ok {
			return nil, &protocol.Error{
				Name:    "DBNotAvailableError",
				Message: fmt.Sprintf("worker %s does not have database %q", w.opts.WorkerID, name),
				Code:    protocol.CodeDBNotAvailable,
			}
		}
	}
	return &loadedModule{
		version: version,
		handler: handler,
		meta:    protocol.Meta{DB: db},
	}, nil
}

func normalizeDB(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
