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

// Package httpserver is the outer HTTP listener (spec.md's "outer HTTP
// listener" out-of-core collaborator): request/response logging,
// maxRequestBytes enforcement, and dispatch into the engine, modeled on
// the teacher's Router.Serve/h2c wiring and responseWriter wrapper
// (router/router.go).
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/fluxion-run/fluxion/internal/engine"
	"github.com/fluxion-run/fluxion/internal/logging"
	"github.com/fluxion-run/fluxion/internal/protocol"
	"github.com/fluxion-run/fluxion/internal/resolve"
)

// Config configures the outer listener.
type Config struct {
	Addr            string
	MaxRequestBytes int64
	EnableH2C       bool
	Logger          logging.Logger
	MetaMux         http.Handler // handles /_fluxion/* routes; nil disables the boundary
	Timeouts        *Timeouts
}

// Timeouts mirrors the teacher's production-safe server timeout bundle
// (router/router.go's serverTimeouts), sized for Fluxion's own defaults.
type Timeouts struct {
	ReadHeader time.Duration
	Read       time.Duration
	Write      time.Duration
	Idle       time.Duration
}

func defaultTimeouts() Timeouts {
	return Timeouts{
		ReadHeader: 5 * time.Second,
		Read:       30 * time.Second,
		Write:      30 * time.Second,
		Idle:       120 * time.Second,
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and
// size for logging, mirroring the teacher's router.responseWriter.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.ResponseWriter.WriteHeader(code)
		rw.written = true
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.written = true
		if rw.statusCode == 0 {
			rw.statusCode = http.StatusOK
		}
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

func (rw *responseWriter) StatusCode() int {
	if rw.statusCode == 0 {
		return http.StatusOK
	}
	return rw.statusCode
}

// Server is Fluxion's outer HTTP boundary.
type Server struct {
	cfg    Config
	engine *engine.Engine
	logger logging.Logger
	http   *http.Server
}

// New wires an engine and optional meta-API mux into a ready-to-Serve
// Server.
func New(e *engine.Engine, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOp()
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 10 << 20
	}
	timeouts := defaultTimeouts()
	if cfg.Timeouts != nil {
		timeouts = *cfg.Timeouts
	}

	s := &Server{cfg: cfg, engine: e, logger: cfg.Logger}

	mux := http.NewServeMux()
	if cfg.MetaMux != nil {
		mux.Handle("/_fluxion/", cfg.MetaMux)
	}
	mux.Handle("/", s.loggingMiddleware(http.HandlerFunc(s.dispatch)))

	var handler http.Handler = mux
	if cfg.EnableH2C {
		handler = h2c.NewHandler(mux, &http2.Server{})
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
		ReadTimeout:       timeouts.Read,
		WriteTimeout:      timeouts.Write,
		IdleTimeout:       timeouts.Idle,
	}
	return s
}

// ListenAndServe starts the server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.StatusCode(),
			"size", rw.size,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// dispatch enforces maxRequestBytes (spec.md §6, scenario 6), reads the
// body, and delegates to the engine, formatting every error kind from
// spec.md §7 into its specified JSON shape.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body too large: exceeds %d bytes", s.cfg.MaxRequestBytes))
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := s.engine.Dispatch(r.Context(), r, body)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}

	switch result.Outcome {
	case engine.OutcomeHandler:
		writeHandlerResponse(w, result.Response)
	case engine.OutcomeStatic:
		s.writeStatic(w, r, result)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{
			"message": "Route not found",
			"method":  r.Method,
			"url":     r.URL.String(),
		})
	}
}

var errBodyTooLarge = errors.New("httpserver: request body too large")

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	limited := io.LimitReader(r.Body, s.cfg.MaxRequestBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.cfg.MaxRequestBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// writeDispatchError formats every error kind from spec.md §7 into its
// specified JSON shape: capacity failures get a 5xx naming the limit,
// load failures hide their detail behind a generic message (logged with
// it instead), and runtime failures (the handler itself threw) surface
// the serialized error.
func (s *Server) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	var protoErr *protocol.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case protocol.CodeOverloaded, protocol.CodeTimeout, protocol.CodeResponseTooBig:
			s.logger.Error("dispatch capacity failure", "path", r.URL.Path, "code", protoErr.Code, "error", protoErr.Message)
			writeJSONError(w, http.StatusInternalServerError, protoErr.Message)
			return
		case protocol.CodeDBNotAvailable, protocol.CodeVersionMismatch:
			s.logger.Error("dispatch failed", "path", r.URL.Path, "code", protoErr.Code, "error", protoErr.Message)
			writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		switch protoErr.Name {
		case "HandlerError":
			writeJSONError(w, http.StatusInternalServerError, protoErr.Message)
			return
		default:
			s.logger.Error("dispatch load failure", "path", r.URL.Path, "error", protoErr.Message)
			writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
	}

	s.logger.Error("dispatch failed", "path", r.URL.Path, "error", err)
	writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
}

func writeHandlerResponse(w http.ResponseWriter, resp *protocol.Response) {
	if resp == nil {
		writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func (s *Server) writeStatic(w http.ResponseWriter, r *http.Request, result *engine.Result) {
	if err := resolve.ServeStatic(w, r.Method, *result.Static); err != nil {
		s.logger.Error("static serve failed", "path", r.URL.Path, "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
