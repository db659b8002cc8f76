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

// Package pathsafe decodes and validates an HTTP request pathname into a
// sequence of safe, routable segments.
package pathsafe

import (
	"net/url"
	"strings"
)

// Parsed is the result of successfully parsing a pathname.
type Parsed struct {
	Pathname string
	Segments []string
}

// Parse decodes pathname into safe segments, or reports ok=false when the
// pathname must be treated as "no route" (the caller should respond 404).
//
// A segment is rejected — failing the whole parse — if it is empty after
// decoding, is "." or "..", contains a literal "/" or "\", begins with
// "_", or fails percent-decoding. Rejection is never an error value: an
// invalid or hidden path is simply not a route.
func Parse(pathname string) (Parsed, bool) {
	raw := strings.Split(pathname, "/")
	segments := make([]string, 0, len(raw))

	for _, r := range raw {
		if r == "" {
			continue
		}
		decoded, err := url.PathUnescape(r)
		if err != nil {
			return Parsed{}, false
		}
		if !validSegment(decoded) {
			return Parsed{}, false
		}
		segments = append(segments, decoded)
	}

	return Parsed{Pathname: pathname, Segments: segments}, true
}

func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	if strings.HasPrefix(s, "_") {
		return false
	}
	if strings.ContainsAny(s, "/\\") {
		return false
	}
	return true
}
