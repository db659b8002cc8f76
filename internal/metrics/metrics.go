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

// Package metrics instruments the engine and worker supervisors with
// Prometheus collectors, modeled on the teacher's custom-registry
// pattern (metrics/providers.go's initPrometheusProvider) but talking to
// github.com/prometheus/client_golang directly rather than through the
// full OpenTelemetry SDK — Fluxion has no OTLP/stdout export target, so
// the metrics-SDK indirection the teacher uses to support multiple
// providers has no home here (see DESIGN.md).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector Fluxion exposes at /_fluxion/metrics.
type Registry struct {
	registry *prometheus.Registry

	Inflight        *prometheus.GaugeVec
	Restarts        *prometheus.CounterVec
	DispatchLatency *prometheus.HistogramVec
	DispatchTotal   *prometheus.CounterVec
	HeapUsedBytes   *prometheus.GaugeVec
}

// New creates a Registry backed by its own prometheus.Registry, kept
// separate from the global default registry the same way the teacher's
// Prometheus provider avoids clobbering process-wide collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		Inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fluxion",
			Subsystem: "worker",
			Name:      "inflight",
			Help:      "Current number of admitted, unresolved requests per worker binding.",
		}, []string{"worker_id"}),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxion",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Total number of worker restarts, labeled by reason.",
		}, []string{"worker_id", "reason"}),
		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluxion",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Engine dispatch latency, from path parsing to the dispatch result; excludes reading the request body and writing the response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxion",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Total dispatches, labeled by outcome.",
		}, []string{"outcome"}),
		HeapUsedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fluxion",
			Subsystem: "worker",
			Name:      "heap_used_bytes",
			Help:      "Most recent heap-used memory sample per worker binding.",
		}, []string{"worker_id"}),
	}

	reg.MustRegister(r.Inflight, r.Restarts, r.DispatchLatency, r.DispatchTotal, r.HeapUsedBytes)
	return r
}

// Handler returns an http.Handler serving this registry's collectors in
// the Prometheus exposition format, for mounting at /_fluxion/metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
