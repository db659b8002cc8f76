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

// Package protocol defines the typed message schema and correlation
// layer exchanged between the dispatcher (supervisor) and a handler
// worker. Every message carries a correlation id except MemorySample,
// which is unsolicited and periodic.
package protocol

import "github.com/google/uuid"

// Code identifies a well-known failure emitted at the protocol layer.
type Code string

const (
	CodeOverloaded      Code = "WORKER_OVERLOADED"
	CodeTimeout         Code = "WORKER_TIMEOUT"
	CodeVersionMismatch Code = "WORKER_VERSION_MISMATCH"
	CodeDBNotAvailable  Code = "WORKER_DB_NOT_AVAILABLE"
	CodeResponseTooBig  Code = "WORKER_RESPONSE_TOO_LARGE"
)

// NewID returns a fresh correlation id for an Execute or Inspect message.
func NewID() string {
	return uuid.NewString()
}

// Execute asks a worker to load (if needed) filePath at version and run
// its handler against a synthesized request.
type Execute struct {
	ID       string
	FilePath string
	Version  string
	Method   string
	URL      string
	Headers  map[string][]string
	Body     []byte
	IP       string
}

// Inspect asks a worker to load filePath at version and report only its
// declared metadata, without running the handler.
type Inspect struct {
	ID       string
	FilePath string
	Version  string
}

// Response is the serialized outbound HTTP response produced by a
// handler run.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Meta is a handler's declared capability set.
type Meta struct {
	DB []string
}

// Error is a rehydratable, typed failure.
type Error struct {
	Name    string
	Message string
	Stack   string
	Code    Code
}

func (e *Error) Error() string { return e.Message }

// Result answers an Execute.
type Result struct {
	ID        string
	OK        bool
	ElapsedMs int64
	HeapUsed  int64
	Meta      *Meta
	Response  *Response
	Err       *Error
}

// InspectResult answers an Inspect.
type InspectResult struct {
	ID   string
	OK   bool
	Meta *Meta
	Err  *Error
}

// MemorySample is pushed periodically and unsolicited by a worker.
type MemorySample struct {
	HeapUsed     int64
	RSS          int64
	External     int64
	ArrayBuffers int64
}
