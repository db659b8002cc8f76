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

package resolve

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fluxion-run/fluxion/internal/fsversion"
)

// mimeByExt is the fixed content-type table from spec.md §4.4. Anything
// else falls back to application/octet-stream.
var mimeByExt = map[string]string{
	".css":  "text/css; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".ico":  "image/x-icon",
	".js":   "text/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".map":  "application/json; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".svg":  "image/svg+xml",
	".txt":  "text/plain; charset=utf-8",
	".webp": "image/webp",
}

// StaticFile is a resolved static file ready to stream.
type StaticFile struct {
	AbsolutePath string
	RelativePath string
	ContentType  string
	Size         int64
}

// ResolveStatic resolves segments to a static file under root. It never
// matches a request with zero segments (no bare directory index), a
// ".mjs"-suffixed path, or a path escaping root. Static dispatch only
// runs on handler-miss, per spec.md §4.4.
func ResolveStatic(root string, segments []string) (StaticFile, bool, error) {
	if len(segments) == 0 {
		return StaticFile{}, false, nil
	}
	rel := filepath.Join(segments...)
	if strings.HasSuffix(rel, ".mjs") {
		return StaticFile{}, false, nil
	}

	abs := filepath.Join(root, rel)
	if !underRoot(root, abs) {
		return StaticFile{}, false, nil
	}

	version, ok, err := fsversion.Of(abs)
	if err != nil {
		return StaticFile{}, false, err
	}
	if !ok {
		return StaticFile{}, false, nil
	}
	_ = version // static files are re-stat'd per request; no cache layer here

	info, err := os.Stat(abs)
	if err != nil {
		return StaticFile{}, false, nil
	}

	return StaticFile{
		AbsolutePath: abs,
		RelativePath: filepath.ToSlash(rel),
		ContentType:  contentTypeFor(abs),
		Size:         info.Size(),
	}, true, nil
}

func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := mimeByExt[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ServeStatic streams f to w, honoring GET/HEAD semantics: HEAD gets the
// same headers with no body. Only GET and HEAD are accepted; any other
// method is the caller's responsibility to reject before calling this.
func ServeStatic(w http.ResponseWriter, method string, f StaticFile) error {
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))

	if method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	file, err := os.Open(f.AbsolutePath)
	if err != nil {
		return err
	}
	defer file.Close()

	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, file)
	return err
}

// IsStaticMethod reports whether method is one static dispatch accepts.
func IsStaticMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
