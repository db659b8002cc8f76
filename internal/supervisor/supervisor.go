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

// Package supervisor implements the worker supervisor (C7): lifecycle
// management of exactly one live handler worker, admission control,
// inflight bookkeeping, and restart policy.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxion-run/fluxion/internal/logging"
	"github.com/fluxion-run/fluxion/internal/protocol"
	"github.com/fluxion-run/fluxion/internal/workerproc"
)

// State is the supervisor's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateRestarting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Limits bundles every resource cap from spec.md §4.7.
type Limits struct {
	MaxOldGenerationSizeMb   int
	MaxYoungGenerationSizeMb int
	StackSizeMb              int
	RequestTimeout           time.Duration
	MaxInflight              int
	MemorySoftLimitMb        int
	MemoryHardLimitMb        int
	MemorySampleInterval     time.Duration
	MaxResponseBytes         int

	// RestartOnSoftLimitAlways resolves spec.md §9's open question: by
	// default a soft-limit breach only restarts when inflight is zero
	// (polite). Setting this restarts unconditionally instead.
	RestartOnSoftLimitAlways bool
}

// DefaultLimits returns spec.md §4.7's defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxOldGenerationSizeMb:   128,
		MaxYoungGenerationSizeMb: 32,
		StackSizeMb:              4,
		RequestTimeout:           3 * time.Second,
		MaxInflight:              64,
		MemorySoftLimitMb:        96,
		MemoryHardLimitMb:        128,
		MemorySampleInterval:     5 * time.Second,
		MaxResponseBytes:         5 << 20,
	}
}

// ErrClosed is returned by Execute/Inspect once the supervisor has been
// closed.
var ErrClosed = &protocol.Error{Name: "ClosedError", Message: "runtime worker closed"}

type inflightEntry struct {
	doneCh chan string // restart reason, buffered 1
}

// Supervisor owns one worker and its inflight requests.
type Supervisor struct {
	id     string
	dbSet  map[string]struct{}
	limits Limits
	logger logging.Logger

	mu            sync.Mutex
	state         State
	worker        *workerproc.Worker
	inflight      map[string]*inflightEntry
	versions      map[string]string
	restartingCh  chan struct{}
	restartCount  int
	lastReason    string
	lastRestartAt time.Time
	lastSample    protocol.MemorySample
	lastSampledAt time.Time

	restartMu sync.Mutex
}

// New creates a supervisor for the given worker id and declared database
// capability set. The worker process itself is not started until the
// first Execute/Inspect call.
func New(id string, dbSet map[string]struct{}, limits Limits, logger logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Supervisor{
		id:       id,
		dbSet:    dbSet,
		limits:   limits,
		logger:   logger,
		state:    StateStopped,
		inflight: make(map[string]*inflightEntry),
		versions: make(map[string]string),
	}
}

// ID returns the supervisor's (and its binding's) worker id.
func (s *Supervisor) ID() string { return s.id }

// DBSet returns the worker's declared database capability set.
func (s *Supervisor) DBSet() map[string]struct{} { return s.dbSet }

// InflightCount returns the current number of admitted, unresolved
// requests.
func (s *Supervisor) InflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Supervisor) spawnWorker() *workerproc.Worker {
	w := workerproc.New(workerproc.Options{
		WorkerID:             s.id,
		DBSet:                s.dbSet,
		MemorySampleInterval: s.limits.MemorySampleInterval,
		MaxResponseBytes:     s.limits.MaxResponseBytes,
	}, s.onSample)
	w.Start()
	return w
}

func (s *Supervisor) onSample(sample protocol.MemorySample) {
	s.mu.Lock()
	s.lastSample = sample
	s.lastSampledAt = time.Now()
	inflight := len(s.inflight)
	soft := s.limits.MemorySoftLimitMb
	hard := s.limits.MemoryHardLimitMb
	always := s.limits.RestartOnSoftLimitAlways
	s.mu.Unlock()

	const mb = 1024 * 1024
	heapMb := int(sample.HeapUsed / mb)

	if hard > 0 && heapMb >= hard {
		go s.Restart("memory hard limit exceeded")
		return
	}
	if soft > 0 && heapMb >= soft && (always || inflight == 0) {
		go s.Restart("memory soft limit exceeded")
	}
}

// admit performs steps 1-4 of spec.md §4.7's Execute admission, blocking
// if a restart is underway, and returns the inflight entry to release on
// completion.
func (s *Supervisor) admit(filePath, version string) (*inflightEntry, error) {
	s.mu.Lock()
	for s.state == StateRestarting {
		ch := s.restartingCh
		s.mu.Unlock()
		<-ch
		s.mu.Lock()
	}

	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if len(s.inflight) >= s.limits.MaxInflight {
		s.mu.Unlock()
		return nil, &protocol.Error{Name: "OverloadedError", Message: "worker overloaded: too many inflight requests", Code: protocol.CodeOverloaded}
	}

	needsRestart := false
	if prev, ok := s.versions[filePath]; ok && prev != version {
		needsRestart = true
	}
	s.mu.Unlock()

	if needsRestart {
		s.Restart(fmt.Sprintf("handler version changed: %s", filePath))
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if len(s.inflight) >= s.limits.MaxInflight {
			s.mu.Unlock()
			return nil, &protocol.Error{Name: "OverloadedError", Message: "worker overloaded: too many inflight requests", Code: protocol.CodeOverloaded}
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.state == StateStopped {
		s.worker = s.spawnWorker()
		s.state = StateRunning
	}
	s.versions[filePath] = version
	entry := &inflightEntry{doneCh: make(chan string, 1)}
	id := protocol.NewID()
	s.inflight[id] = entry
	s.mu.Unlock()

	return entry, nil
}

func (s *Supervisor) release(entry *inflightEntry) {
	s.mu.Lock()
	for id, e := range s.inflight {
		if e == entry {
			delete(s.inflight, id)
			break
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) currentWorker() *workerproc.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

// Execute admits and dispatches an Execute message, applying the
// one-retry-on-version-mismatch policy from spec.md §4.7.
func (s *Supervisor) Execute(ctx context.Context, msg protocol.Execute) (*protocol.Result, error) {
	result, err := s.executeOnce(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !result.OK && result.Err != nil && result.Err.Code == protocol.CodeVersionMismatch {
		s.Restart(fmt.Sprintf("version mismatch race on %s", msg.FilePath))
		return s.executeOnce(ctx, msg)
	}
	return result, nil
}

func (s *Supervisor) executeOnce(ctx context.Context, msg protocol.Execute) (*protocol.Result, error) {
	entry, err := s.admit(msg.FilePath, msg.Version)
	if err != nil {
		return nil, err
	}
	defer s.release(entry)

	worker := s.currentWorker()
	resultCh := make(chan *protocol.Result, 1)
	go func() { resultCh <- worker.Execute(msg) }()

	timer := time.NewTimer(s.limits.RequestTimeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		return result, nil
	case <-timer.C:
		go s.Restart("request timeout")
		return nil, &protocol.Error{Name: "TimeoutError", Message: "worker timed out", Code: protocol.CodeTimeout}
	case reason := <-entry.doneCh:
		return nil, fmt.Errorf("runtime worker restarted: %s", reason)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Inspect admits and dispatches an Inspect message. The reference design
// counts inspects against maxInflight, per spec.md §4.7.
func (s *Supervisor) Inspect(ctx context.Context, msg protocol.Inspect) (*protocol.InspectResult, error) {
	entry, err := s.admit(msg.FilePath, msg.Version)
	if err != nil {
		return nil, err
	}
	defer s.release(entry)

	worker := s.currentWorker()
	resultCh := make(chan *protocol.InspectResult, 1)
	go func() { resultCh <- worker.Inspect(msg) }()

	timer := time.NewTimer(s.limits.RequestTimeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		return result, nil
	case <-timer.C:
		go s.Restart("request timeout")
		return nil, &protocol.Error{Name: "TimeoutError", Message: "worker timed out", Code: protocol.CodeTimeout}
	case reason := <-entry.doneCh:
		return nil, fmt.Errorf("runtime worker restarted: %s", reason)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Restart tears the current worker down and spawns a fresh one. Only one
// restart runs at a time; concurrent callers block until it completes.
// ClearCache (an explicit operator request) is just a restart with a
// fixed reason.
func (s *Supervisor) Restart(reason string) {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.restartingCh = done
	s.state = StateRestarting
	for id, entry := range s.inflight {
		select {
		case entry.doneCh <- reason:
		default:
		}
		delete(s.inflight, id)
	}
	s.versions = make(map[string]string)
	old := s.worker
	s.mu.Unlock()

	s.logger.Info("worker restarting", "worker_id", s.id, "reason", reason)

	if old != nil {
		old.Close()
	}
	fresh := s.spawnWorker()

	s.mu.Lock()
	s.worker = fresh
	s.state = StateRunning
	s.restartCount++
	s.lastReason = reason
	s.lastRestartAt = time.Now()
	s.mu.Unlock()
	close(done)
}

// ClearCache forces a restart, discarding every cached module version.
func (s *Supervisor) ClearCache() {
	s.Restart("cache cleared")
}

// Close terminates the supervisor. Idempotent.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	for _, entry := range s.inflight {
		select {
		case entry.doneCh <- "closed":
		default:
		}
	}
	s.inflight = make(map[string]*inflightEntry)
	worker := s.worker
	s.worker = nil
	s.mu.Unlock()

	if worker != nil {
		worker.Close()
	}
}

// Handler is one (filePath, version) tracked by this supervisor.
type Handler struct {
	FilePath string
	Version  string
}

// Memory is the most recent memory sample, if any has arrived yet.
type Memory struct {
	HeapUsed     int64
	RSS          int64
	External     int64
	ArrayBuffers int64
	SampledAt    time.Time
}

// Snapshot is a point-in-time, value-typed view of this supervisor.
type Snapshot struct {
	Status            string
	Inflight          int
	TrackedHandlers   int
	Handlers          []Handler
	RestartCount      int
	LastRestartReason string
	LastRestartAt     time.Time
	Limits            Limits
	Memory            *Memory
}

// Snapshot returns a copy of this supervisor's current state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	handlers := make([]Handler, 0, len(s.versions))
	for path, version := range s.versions {
		handlers = append(handlers, Handler{FilePath: path, Version: version})
	}

	snap := Snapshot{
		Status:            s.state.String(),
		Inflight:          len(s.inflight),
		TrackedHandlers:   len(s.versions),
		Handlers:          handlers,
		RestartCount:      s.restartCount,
		LastRestartReason: s.lastReason,
		LastRestartAt:     s.lastRestartAt,
		Limits:            s.limits,
	}
	if !s.lastSampledAt.IsZero() {
		snap.Memory = &Memory{
			HeapUsed:     s.lastSample.HeapUsed,
			RSS:          s.lastSample.RSS,
			External:     s.lastSample.External,
			ArrayBuffers: s.lastSample.ArrayBuffers,
			SampledAt:    s.lastSampledAt,
		}
	}
	return snap
}
