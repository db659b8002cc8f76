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

// Package selector implements the worker-selection policy (C8): mapping
// a handler's declared db requirement set to the minimal satisfying
// worker binding in a pool.
package selector

import (
	"fmt"
	"sort"

	"github.com/fluxion-run/fluxion/internal/supervisor"
)

// Binding pairs a worker id and declared db set with the supervisor
// that owns its pool, and flags whether it is the synthesized
// all-database fallback.
type Binding struct {
	ID               string
	DBSet            map[string]struct{}
	IsFallbackAllDB  bool
	Supervisor       *supervisor.Supervisor
}

// Pool is an ordered set of bindings to select among.
type Pool struct {
	bindings []*Binding
}

// NewPool builds a pool. declaredDatabases is the full set of database
// names known to the process; if no binding's DBSet equals it, a
// synthesized all-db fallback binding is appended automatically.
//
// Validation errors (spec.md §4.8): empty id, duplicate id, unknown db
// name are all fail-fast startup errors.
func NewPool(bindings []*Binding, declaredDatabases map[string]struct{}) (*Pool, error) {
	seenIDs := make(map[string]struct{}, len(bindings))
	hasAllDB := false

	for _, b := range bindings {
		if b.ID == "" {
			return nil, fmt.Errorf("selector: worker binding has empty id")
		}
		if _, dup := seenIDs[b.ID]; dup {
			return nil, fmt.Errorf("selector: duplicate worker id %q", b.ID)
		}
		seenIDs[b.ID] = struct{}{}

		for name := range b.DBSet {
			if _, ok := declaredDatabases[name]; !ok {
				return nil, fmt.Errorf("selector: worker %q declares unknown database %q", b.ID, name)
			}
		}
		if setEquals(b.DBSet, declaredDatabases) {
			hasAllDB = true
		}
	}

	if !hasAllDB {
		id := "fluxion-worker-all"
		for {
			if _, dup := seenIDs[id]; !dup {
				break
			}
			id += "-2"
		}
		bindings = append(bindings, &Binding{
			ID:              id,
			DBSet:           declaredDatabases,
			IsFallbackAllDB: true,
		})
	}

	return &Pool{bindings: bindings}, nil
}

// Bindings returns every binding in this pool, in registration order
// (the synthesized fallback, if any, is last).
func (p *Pool) Bindings() []*Binding { return p.bindings }

// Select returns the minimal-superset binding for requirement set
// required: candidates (DBSet superset of required) are sorted by
// (|DBSet| asc, inflight asc, id asc) and the first is returned.
//
// The all-db fallback binding guarantees candidates is never empty.
func (p *Pool) Select(required map[string]struct{}) (*Binding, error) {
	candidates := make([]*Binding, 0, len(p.bindings))
	for _, b := range p.bindings {
		if isSubset(required, b.DBSet) {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("selector: no worker satisfies required db set %v (missing all-db fallback)", keys(required))
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if len(a.DBSet) != len(b.DBSet) {
			return len(a.DBSet) < len(b.DBSet)
		}
		ai, bi := 0, 0
		if a.Supervisor != nil {
			ai = a.Supervisor.InflightCount()
		}
		if b.Supervisor != nil {
			bi = b.Supervisor.InflightCount()
		}
		if ai != bi {
			return ai < bi
		}
		return a.ID < b.ID
	})

	return candidates[0], nil
}

func isSubset(sub, super map[string]struct{}) bool {
	for name := range sub {
		if _, ok := super[name]; !ok {
			return false
		}
	}
	return true
}

func setEquals(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for name := range a {
		if _, ok := b[name]; !ok {
			return false
		}
	}
	return true
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
