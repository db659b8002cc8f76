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

// Package metaapi implements Fluxion's meta HTTP boundary (C10): the
// small, read-only JSON endpoints a deployment uses to introspect routes,
// liveness, and worker state (spec.md §6), plus the Prometheus scrape
// endpoint its DOMAIN STACK adds.
package metaapi

import (
	"encoding/json"
	"net/http"

	"github.com/fluxion-run/fluxion/internal/engine"
	"github.com/fluxion-run/fluxion/internal/logging"
	"github.com/fluxion-run/fluxion/internal/metrics"
)

// Handler serves the /_fluxion/* endpoints.
type Handler struct {
	engine  *engine.Engine
	metrics *metrics.Registry
	logger  logging.Logger
	now     func() int64
}

// New builds a meta API handler over the given engine. metricsReg may be
// nil, in which case /_fluxion/metrics responds 404.
func New(e *engine.Engine, metricsReg *metrics.Registry, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Handler{engine: e, metrics: metricsReg, logger: logger, now: epochMillisNow}
}

// Mount registers every /_fluxion/* route on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /_fluxion/routes", h.routes)
	mux.HandleFunc("GET /_fluxion/healthz", h.healthz)
	mux.HandleFunc("GET /_fluxion/workers", h.workers)
	if h.metrics != nil {
		mux.Handle("GET /_fluxion/metrics", h.metricsHandler())
	}
}

type routesResponse struct {
	Routes routesBody `json:"routes"`
}

type routesBody struct {
	Handlers    []handlerEntry `json:"handlers"`
	StaticFiles []staticEntry  `json:"staticFiles"`
}

type handlerEntry struct {
	Route        string `json:"route"`
	RelativePath string `json:"relativePath"`
	Version      string `json:"version"`
}

type staticEntry struct {
	Route        string `json:"route"`
	RelativePath string `json:"relativePath"`
}

func (h *Handler) routes(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.RouteSnapshot()
	if err != nil {
		h.logger.Error("route snapshot failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal Server Error"})
		return
	}

	handlers := make([]handlerEntry, 0, len(snap.Handlers))
	for _, hr := range snap.Handlers {
		handlers = append(handlers, handlerEntry{Route: hr.Route, RelativePath: hr.RelativePath, Version: hr.Version})
	}
	statics := make([]staticEntry, 0, len(snap.Statics))
	for _, sr := range snap.Statics {
		statics = append(statics, staticEntry{Route: sr.Route, RelativePath: sr.RelativePath})
	}

	writeJSON(w, http.StatusOK, routesResponse{Routes: routesBody{Handlers: handlers, StaticFiles: statics}})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "now": h.now()})
}

type workersResponse struct {
	Workers []workerEntry `json:"workers"`
}

type workerEntry struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	Inflight          int            `json:"inflight"`
	TrackedHandlers   int            `json:"trackedHandlers"`
	Handlers          []handlerRef   `json:"handlers"`
	RestartCount      int            `json:"restartCount"`
	LastRestartReason string         `json:"lastRestartReason,omitempty"`
	LastRestartAt     *int64         `json:"lastRestartAt,omitempty"`
	Limits            limitsEntry    `json:"limits"`
	Memory            *memoryEntry   `json:"memory,omitempty"`
	DBSet             []string       `json:"dbSet"`
	IsFallbackAllDB   bool           `json:"isFallbackAllDb"`
}

type handlerRef struct {
	FilePath string `json:"filePath"`
	Version  string `json:"version"`
}

type limitsEntry struct {
	MaxOldGenerationSizeMb   int   `json:"maxOldGenerationSizeMb"`
	MaxYoungGenerationSizeMb int   `json:"maxYoungGenerationSizeMb"`
	StackSizeMb              int   `json:"stackSizeMb"`
	RequestTimeoutMs         int64 `json:"requestTimeoutMs"`
	MaxInflight              int   `json:"maxInflight"`
	MemorySoftLimitMb        int   `json:"memorySoftLimitMb"`
	MemoryHardLimitMb        int   `json:"memoryHardLimitMb"`
	MaxResponseBytes         int   `json:"maxResponseBytes"`
}

type memoryEntry struct {
	HeapUsed     int64 `json:"heapUsed"`
	RSS          int64 `json:"rss"`
	External     int64 `json:"external"`
	ArrayBuffers int64 `json:"arrayBuffers"`
	SampledAt    int64 `json:"sampledAt"`
}

func (h *Handler) workers(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.WorkerSnapshot()

	entries := make([]workerEntry, 0, len(snap))
	for _, ws := range snap {
		entry := workerEntry{
			ID:                ws.ID,
			Status:            ws.Status,
			Inflight:          ws.Inflight,
			TrackedHandlers:   ws.TrackedHandlers,
			RestartCount:      ws.RestartCount,
			LastRestartReason: ws.LastRestartReason,
			DBSet:             ws.DBSet,
			IsFallbackAllDB:   ws.IsFallbackAllDB,
			Limits: limitsEntry{
				MaxOldGenerationSizeMb:   ws.Limits.MaxOldGenerationSizeMb,
				MaxYoungGenerationSizeMb: ws.Limits.MaxYoungGenerationSizeMb,
				StackSizeMb:              ws.Limits.StackSizeMb,
				RequestTimeoutMs:         ws.Limits.RequestTimeout.Milliseconds(),
				MaxInflight:              ws.Limits.MaxInflight,
				MemorySoftLimitMb:        ws.Limits.MemorySoftLimitMb,
				MemoryHardLimitMb:        ws.Limits.MemoryHardLimitMb,
				MaxResponseBytes:         ws.Limits.MaxResponseBytes,
			},
		}
		for _, hr := range ws.Handlers {
			entry.Handlers = append(entry.Handlers, handlerRef{FilePath: hr.FilePath, Version: hr.Version})
		}
		if !ws.LastRestartAt.IsZero() {
			ms := ws.LastRestartAt.UnixMilli()
			entry.LastRestartAt = &ms
		}
		if ws.Memory != nil {
			entry.Memory = &memoryEntry{
				HeapUsed:     ws.Memory.HeapUsed,
				RSS:          ws.Memory.RSS,
				External:     ws.Memory.External,
				ArrayBuffers: ws.Memory.ArrayBuffers,
				SampledAt:    ws.Memory.SampledAt.UnixMilli(),
			}
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, workersResponse{Workers: entries})
}

func (h *Handler) metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.engine.SyncWorkerMetrics()
		h.metrics.Handler().ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
