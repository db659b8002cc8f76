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
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"

	"github.com/fluxion-run/fluxion/internal/protocol"
)

// compileHandlerFile reads filePath, evaluates it as a handler module and
// returns its normalized handler callable and declared db set.
//
// Handler files are plain JavaScript with a single top-level
// `export default <function-or-object>` clause — the only module-system
// feature spec.md's HandlerModule entity requires. There is no import
// resolution: a handler file is self-contained.
func compileHandlerFile(vm *goja.Runtime, filePath string) (goja.Callable, []string, *protocol.Error) {
	source, err := os.ReadFile(filePath)
	if err != nil {
		return nil, nil, &protocol.Error{
			Name:    "LoadError",
			Message: fmt.Sprintf("reading handler file: %v", err),
		}
	}

	body, ok := extractDefaultExport(string(source))
	if !ok {
		return nil, nil, &protocol.Error{
			Name:    "LoadError",
			Message: fmt.Sprintf("%s: no `export default` found", filePath),
		}
	}

	wrapped := "(function(){\"use strict\";\nvar module={exports:{}};var exports=module.exports;\n" +
		body + "\nreturn module.exports;\n})()"

	val, runErr := vm.RunScript(filePath, wrapped)
	if runErr != nil {
		loadErr := translateJSError(runErr)
		loadErr.Name = "LoadError"
		return nil, nil, loadErr
	}

	exports := val.ToObject(vm)
	def := exports.Get("default")
	if def == nil || goja.IsUndefined(def) || goja.IsNull(def) {
		return nil, nil, &protocol.Error{
			Name:    "LoadError",
			Message: fmt.Sprintf("%s: default export is empty", filePath),
		}
	}

	if fn, isFn := goja.AssertFunction(def); isFn {
		return fn, nil, nil
	}

	defObj := def.ToObject(vm)
	handlerVal := defObj.Get("handler")
	fn, isFn := goja.AssertFunction(handlerVal)
	if !isFn {
		return nil, nil, &protocol.Error{
			Name:    "LoadError",
			Message: fmt.Sprintf("%s: default export is neither a function nor {handler}", filePath),
		}
	}

	db := exportedDB(vm, defObj.Get("db"))
	return fn, db, nil
}

// extractDefaultExport rewrites the single `export default` statement
// this handler convention requires into a CommonJS-style assignment,
// leaving everything else in the source untouched.
func extractDefaultExport(source string) (string, bool) {
	const marker = "export default"
	idx := strings.Index(source, marker)
	if idx < 0 {
		return "", false
	}
	return source[:idx] + "module.exports.default =" + source[idx+len(marker):], true
}

func exportedDB(vm *goja.Runtime, v goja.Value) []string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch exported := v.Export().(type) {
	case string:
		return normalizeDB([]string{exported})
	case []interface{}:
		raw := make([]string, 0, len(exported))
		for _, item := range exported {
			raw = append(raw, fmt.Sprint(item))
		}
		return normalizeDB(raw)
	default:
		return nil
	}
}

func translateJSError(err error) *protocol.Error {
	if jsErr, ok := err.(*goja.Exception); ok {
		return &protocol.Error{
			Name:    "HandlerError",
			Message: jsErr.Value().String(),
			Stack:   jsErr.String(),
		}
	}
	return &protocol.Error{Name: "HandlerError", Message: err.Error()}
}
