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

// Package resolve implements the handler resolver (C3) and static
// responder (C4): turning safe path segments into either a dynamic
// handler file candidate or a static file to stream.
package resolve

import (
	"path/filepath"
	"strings"

	"github.com/fluxion-run/fluxion/internal/fsversion"
)

// Handler is a resolved, version-carrying handler file.
type Handler struct {
	AbsolutePath string
	RelativePath string
	Version      string
}

// ResolveHandler resolves segments to a handler file under root, trying
// "<segments>/index.mjs" before "<segments>.mjs" so that
// index.mjs always wins a priority tie against a sibling file
// (spec.md §4.1, §4.3). It returns ok=false on a resolver miss.
//
// A literal ".mjs"-suffixed pathname is never resolved as a handler:
// source is never served as a dynamic route via its own file name.
func ResolveHandler(root string, segments []string, literalPathEndsInMjs bool) (Handler, bool, error) {
	if literalPathEndsInMjs {
		return Handler{}, false, nil
	}

	candidates := candidatePaths(root, segments)
	for _, rel := range candidates {
		abs := filepath.Join(root, rel)
		if !underRoot(root, abs) {
			continue
		}
		version, ok, err := fsversion.Of(abs)
		if err != nil {
			return Handler{}, false, err
		}
		if ok {
			return Handler{AbsolutePath: abs, RelativePath: rel, Version: version}, true, nil
		}
	}
	return Handler{}, false, nil
}

// candidatePaths returns, in priority order, the index.mjs candidate
// followed by the sibling-file candidate (spec.md §4.3). For the root
// (no segments) only index.mjs is a candidate.
func candidatePaths(root string, segments []string) []string {
	if len(segments) == 0 {
		return []string{"index.mjs"}
	}
	joined := filepath.Join(segments...)
	return []string{
		filepath.Join(joined, "index.mjs"),
		joined + ".mjs",
	}
}

// underRoot reports whether abs, once resolved, is still contained in
// root. This is defense-in-depth against symlinks or case-insensitive
// filesystem tricks that might let an individual, already-validated
// segment escape after path joining.
func underRoot(root, abs string) bool {
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Route computes the route a handler file projects, mirroring the
// priority rule from spec.md's HandlerFile entity:
//   - index.mjs at directory D → route /D
//   - X.mjs (not index) → route /…/X
func Route(relPath string) string {
	relPath = filepath.ToSlash(relPath)
	base := filepath.Base(relPath)
	dir := filepath.Dir(relPath)

	if base == "index.mjs" {
		if dir == "." {
			return "/"
		}
		return "/" + filepath.ToSlash(dir)
	}

	trimmed := strings.TrimSuffix(relPath, ".mjs")
	return "/" + trimmed
}
