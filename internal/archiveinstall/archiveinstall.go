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

// Package archiveinstall implements the archive upload/install utility
// named as an out-of-core collaborator in spec.md §1 and specified in
// §6: extracting an operator-uploaded module archive into the dynamic
// directory, detecting whether it is laid out "nested" (a single
// top-level directory names the module) or "flat" (the archive's own
// base name is the module name).
package archiveinstall

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for archive extensions other than
// .tar, .tar.gz, and .tgz (spec.md §6 rejects .zip explicitly).
var ErrUnsupportedFormat = errors.New("archiveinstall: unsupported archive format (want .tar, .tar.gz, or .tgz)")

// ErrEmptyArchive is returned when an archive contains no entries.
var ErrEmptyArchive = errors.New("archiveinstall: archive is empty")

// Layout classifies how an archive's contents map to a module name.
type Layout int

const (
	// LayoutFlat means the archive's own base name (sans extension) is
	// the module name, and every entry is a direct module file.
	LayoutFlat Layout = iota
	// LayoutNested means a single top-level directory in the archive
	// names the module; its contents become the module's files.
	LayoutNested
)

func (l Layout) String() string {
	if l == LayoutNested {
		return "nested"
	}
	return "flat"
}

// Result describes a completed install.
type Result struct {
	ModuleName string
	Layout     Layout
	Dest       string // destRoot/ModuleName
	FileCount  int
}

// Install extracts archivePath into destRoot, a per-module subdirectory
// named after the detected module name, and returns a description of
// what was installed. destRoot is typically the dynamic directory's
// parent, or the dynamic directory itself for a flat single-module
// deployment; callers choose.
func Install(archivePath, destRoot string) (*Result, error) {
	base := filepath.Base(archivePath)
	moduleNameFromArchive, ok := moduleNameFromExt(base)
	if !ok {
		return nil, ErrUnsupportedFormat
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("archiveinstall: open %s: %w", archivePath, err)
	}
	defer f.Close()

	tr, closeReader, err := openTarReader(f, base)
	if err != nil {
		return nil, err
	}
	if closeReader != nil {
		defer closeReader()
	}

	entries, err := readAllEntries(tr)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyArchive
	}

	layout, topDir := detectLayout(entries)
	moduleName := moduleNameFromArchive
	if layout == LayoutNested {
		moduleName = topDir
	}

	dest := filepath.Join(destRoot, moduleName)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("archiveinstall: create %s: %w", dest, err)
	}

	n, err := writeEntries(entries, dest, layout, topDir)
	if err != nil {
		return nil, err
	}

	return &Result{ModuleName: moduleName, Layout: layout, Dest: dest, FileCount: n}, nil
}

// moduleNameFromExt strips a recognized archive extension from base and
// reports whether one was found.
func moduleNameFromExt(base string) (string, bool) {
	switch {
	case strings.HasSuffix(base, ".tar.gz"):
		return strings.TrimSuffix(base, ".tar.gz"), true
	case strings.HasSuffix(base, ".tgz"):
		return strings.TrimSuffix(base, ".tgz"), true
	case strings.HasSuffix(base, ".tar"):
		return strings.TrimSuffix(base, ".tar"), true
	default:
		return "", false
	}
}

func openTarReader(f *os.File, base string) (*tar.Reader, func(), error) {
	if strings.HasSuffix(base, ".tar.gz") || strings.HasSuffix(base, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("archiveinstall: open gzip stream: %w", err)
		}
		return tar.NewReader(gz), func() { gz.Close() }, nil
	}
	return tar.NewReader(f), nil, nil
}

type entry struct {
	name string // archive-relative, slash-separated
	dir  bool
	data []byte
	mode os.FileMode
}

// readAllEntries buffers every regular-file and directory entry from
// the tar stream into memory. Fluxion module archives are small
// operator uploads, not bulk data transfers, so buffering avoids a
// two-pass disk walk for layout detection.
func readAllEntries(tr *tar.Reader) ([]entry, error) {
	var out []entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archiveinstall: read tar entry: %w", err)
		}

		name := filepath.ToSlash(hdr.Name)
		name = strings.TrimPrefix(name, "./")
		if name == "" || name == "." {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			out = append(out, entry{name: strings.TrimSuffix(name, "/"), dir: true})
		case tar.TypeReg:
			buf := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, buf); err != nil {
				return nil, fmt.Errorf("archiveinstall: read %s: %w", name, err)
			}
			mode := hdr.FileInfo().Mode()
			if mode == 0 {
				mode = 0o644
			}
			out = append(out, entry{name: name, data: buf, mode: mode})
		default:
			// symlinks and other special types are not module content.
		}
	}
	return out, nil
}

// detectLayout implements spec.md §6's nested-vs-flat rule: a single
// top-level directory containing everything means nested (that
// directory names the module); anything else is flat.
func detectLayout(entries []entry) (Layout, string) {
	topDirs := make(map[string]struct{})
	allUnderOneDir := true
	var candidate string

	for _, e := range entries {
		parts := strings.SplitN(e.name, "/", 2)
		top := parts[0]
		topDirs[top] = struct{}{}
		if candidate == "" {
			candidate = top
		} else if top != candidate {
			allUnderOneDir = false
		}
		if len(parts) < 2 && !e.dir {
			// a regular file living at the archive root rules out nested.
			allUnderOneDir = false
		}
	}

	if allUnderOneDir && len(topDirs) == 1 && candidate != "" {
		return LayoutNested, candidate
	}
	return LayoutFlat, ""
}

// writeEntries materializes every buffered entry under dest, stripping
// the detected top-level directory for a nested layout.
func writeEntries(entries []entry, dest string, layout Layout, topDir string) (int, error) {
	count := 0
	for _, e := range entries {
		rel := e.name
		if layout == LayoutNested {
			rel = strings.TrimPrefix(rel, topDir+"/")
			if rel == topDir || rel == "" {
				continue
			}
		}

		target := filepath.Join(dest, filepath.FromSlash(rel))
		if !isUnderRoot(dest, target) {
			return count, fmt.Errorf("archiveinstall: entry %q escapes destination root", e.name)
		}

		if e.dir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return count, err
		}
		if err := os.WriteFile(target, e.data, e.mode); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func isUnderRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
