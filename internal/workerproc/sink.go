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

package workerproc

import (
	"bytes"

	"github.com/dop251/goja"

	"github.com/fluxion-run/fluxion/internal/protocol"
)

// responseSink is the in-memory response object a handler writes into.
// It accumulates status, headers and body bytes and is finalized once
// the handler returns (or its returned promise settles).
type responseSink struct {
	vm       *goja.Runtime
	status   int
	headers  map[string]string
	body     bytes.Buffer
	max      int
	exceeded bool
	obj      *goja.Object
}

func newResponseSink(vm *goja.Runtime, maxBytes int) *responseSink {
	s := &responseSink{
		vm:      vm,
		status:  200,
		headers: make(map[string]string),
		max:     maxBytes,
	}
	s.obj = s.build()
	return s
}

func (s *responseSink) jsObject() goja.Value { return s.obj }

func (s *responseSink) build() *goja.Object {
	obj := s.vm.NewObject()

	_ = obj.Set("status", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			s.status = int(call.Arguments[0].ToInteger())
		}
		return s.obj
	})
	_ = obj.Set("setHeader", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) >= 2 {
			s.headers[call.Arguments[0].String()] = call.Arguments[1].String()
		}
		return s.obj
	})
	_ = obj.Set("write", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			s.append(chunkBytes(call.Arguments[0]))
		}
		return s.vm.ToValue(!s.exceeded)
	})
	_ = obj.Set("end", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			s.append(chunkBytes(call.Arguments[0]))
		}
		return goja.Undefined()
	})
	_ = obj.Set("json", func(call goja.FunctionCall) goja.Value {
		s.headers["content-type"] = "application/json; charset=utf-8"
		if len(call.Arguments) > 0 {
			if encoded, err := s.vm.RunString("JSON.stringify"); err == nil {
				if stringify, ok := goja.AssertFunction(encoded); ok {
					if out, callErr := stringify(goja.Undefined(), call.Arguments[0]); callErr == nil {
						s.append([]byte(out.String()))
					}
				}
			}
		}
		return goja.Undefined()
	})

	return obj
}

// append grows the sink's body, enforcing the maxResponseBytes cap. Once
// exceeded is set, no further bytes are ever retained — a partial body
// must never be delivered (spec.md §8).
func (s *responseSink) append(chunk []byte) {
	if s.exceeded {
		return
	}
	if s.max > 0 && s.body.Len()+len(chunk) > s.max {
		s.exceeded = true
		s.body.Reset()
		return
	}
	s.body.Write(chunk)
}

func chunkBytes(v goja.Value) []byte {
	if buf, ok := v.Export().(goja.ArrayBuffer); ok {
		return buf.Bytes()
	}
	return []byte(v.String())
}

// buildRequest synthesizes the request object a handler receives,
// backed by the Execute message's already-buffered body.
func buildRequest(vm *goja.Runtime, msg protocol.Execute) *goja.Object {
	req := vm.NewObject()
	_ = req.Set("method", msg.Method)
	_ = req.Set("url", msg.URL)
	_ = req.Set("ip", msg.IP)

	headers := vm.NewObject()
	for name, values := range msg.Headers {
		if len(values) == 1 {
			_ = headers.Set(name, values[0])
		} else {
			_ = headers.Set(name, values)
		}
	}
	_ = req.Set("headers", headers)

	if len(msg.Body) > 0 {
		bufObj := vm.ToValue(vm.NewArrayBuffer(msg.Body)).ToObject(vm)
		// ArrayBuffer only exposes .byteLength per ECMA-262; handler code
		// written against spec.md's req.body.length contract needs an
		// explicit .length alongside it.
		_ = bufObj.Set("length", len(msg.Body))
		_ = req.Set("body", bufObj)
	} else {
		_ = req.Set("body", goja.Undefined())
	}
	return req
}

// buildContext synthesizes the optional third handler argument described
// in spec.md §4.6: a per-call view of the worker's declared databases.
func buildContext(vm *goja.Runtime, workerID string, dbSet map[string]struct{}) *goja.Object {
	ctx := vm.NewObject()

	db := vm.NewObject()
	for name := range dbSet {
		_ = db.Set(name, goja.Null())
	}
	_ = ctx.Set("db", db)

	_ = ctx.Set("hasDb", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue(false)
		}
		_, ok := dbSet[call.Arguments[0].String()]
		return vm.ToValue(ok)
	})

	names := make([]string, 0, len(dbSet))
	for name := range dbSet {
		names = append(names, name)
	}
	worker := vm.NewObject()
	_ = worker.Set("id", workerID)
	_ = worker.Set("dbSet", names)
	_ = ctx.Set("worker", worker)

	return ctx
}
