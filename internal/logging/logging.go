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

// Package logging provides the structured Logger interface injected
// throughout Fluxion, modeled on rivaas.dev/logging: a small interface
// compatible with *slog.Logger, a no-op default, and a pair of
// JSON/text handler constructors selectable from configuration.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// HandlerType selects the slog handler format.
type HandlerType string

const (
	JSONHandler HandlerType = "json"
	TextHandler HandlerType = "text"
)

// Logger is satisfied by *slog.Logger and anything structurally
// compatible with it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var noop = slog.New(slog.NewTextHandler(io.Discard, nil))

// NoOp returns the shared no-op logger used when logging is disabled.
func NoOp() *slog.Logger { return noop }

// New builds a *slog.Logger writing to w in the given format at the
// given level.
func New(handler HandlerType, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	switch handler {
	case JSONHandler:
		return slog.New(slog.NewJSONHandler(w, opts))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}
