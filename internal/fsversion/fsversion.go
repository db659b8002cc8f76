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

// Package fsversion derives an opaque, monotonic version token for a file
// from its modification time and size. Version equality is the only
// signal callers may use to decide whether cached work stays valid.
package fsversion

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// ErrNotAFile describes a path that exists but is not a regular file (a
// directory, for instance). Of does not return it: it reports such a path
// as ok=false with a nil error.
var ErrNotAFile = errors.New("fsversion: not a regular file")

// Of stats path and returns its version token. ok is false when the path
// does not exist or is not a regular file; err is non-nil only for a
// genuine I/O failure distinct from "missing".
func Of(path string) (version string, ok bool, err error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) || errors.Is(statErr, fs.ErrInvalid) {
			return "", false, nil
		}
		// A path component being a file instead of a directory surfaces
		// as ENOTDIR on most platforms; treat it the same as "missing".
		if isNotDir(statErr) {
			return "", false, nil
		}
		return "", false, statErr
	}
	if !info.Mode().IsRegular() {
		return "", false, nil
	}
	return fmt.Sprintf("%d:%d", info.ModTime().UnixMilli(), info.Size()), true, nil
}

func isNotDir(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, syscall.ENOTDIR)
	}
	return false
}
