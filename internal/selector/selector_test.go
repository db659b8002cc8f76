package selector

import "testing"

func dbs(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func TestNewPool_SynthesizesFallbackWhenMissing(t *testing.T) {
	declared := dbs("db1", "db2")
	pool, err := NewPool([]*Binding{
		{ID: "w1", DBSet: dbs("db1")},
	}, declared)
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, b := range pool.Bindings() {
		if b.IsFallbackAllDB {
			found = true
			if !setEquals(b.DBSet, declared) {
				t.Fatalf("fallback dbset = %v, want %v", b.DBSet, declared)
			}
		}
	}
	if !found {
		t.Fatalf("expected a synthesized fallback binding")
	}
}

func TestNewPool_NoFallbackWhenAlreadyPresent(t *testing.T) {
	declared := dbs("db1", "db2")
	pool, err := NewPool([]*Binding{
		{ID: "w1", DBSet: dbs("db1")},
		{ID: "w-all", DBSet: dbs("db1", "db2")},
	}, declared)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, b := range pool.Bindings() {
		if b.ID == "fluxion-worker-all" {
			count++
		}
	}
	if count != 0 {
		t.Fatalf("should not synthesize a fallback when one already exists")
	}
}

func TestNewPool_ValidationErrors(t *testing.T) {
	declared := dbs("db1")

	if _, err := NewPool([]*Binding{{ID: "", DBSet: dbs("db1")}}, declared); err == nil {
		t.Fatal("expected error for empty id")
	}
	if _, err := NewPool([]*Binding{{ID: "a", DBSet: dbs("db1")}, {ID: "a", DBSet: dbs("db1")}}, declared); err == nil {
		t.Fatal("expected error for duplicate id")
	}
	if _, err := NewPool([]*Binding{{ID: "a", DBSet: dbs("unknown")}}, declared); err == nil {
		t.Fatal("expected error for unknown db name")
	}
}

func TestSelect_PrefersSmallestSatisfyingSet(t *testing.T) {
	declared := dbs("db1", "db2")
	pool, err := NewPool([]*Binding{
		{ID: "small", DBSet: dbs("db1")},
		{ID: "wide", DBSet: dbs("db1", "db2")},
	}, declared)
	if err != nil {
		t.Fatal(err)
	}

	got, err := pool.Select(dbs("db1"))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "small" {
		t.Fatalf("Select() = %q, want %q", got.ID, "small")
	}

	got, err = pool.Select(dbs("db1", "db2"))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "wide" {
		t.Fatalf("Select() = %q, want %q", got.ID, "wide")
	}
}

func TestSelect_EmptyRequirementPicksSmallest(t *testing.T) {
	declared := dbs("db1", "db2")
	pool, err := NewPool([]*Binding{
		{ID: "wide", DBSet: dbs("db1", "db2")},
		{ID: "none", DBSet: dbs()},
	}, declared)
	if err != nil {
		t.Fatal(err)
	}
	got, err := pool.Select(dbs())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "none" {
		t.Fatalf("Select() = %q, want %q", got.ID, "none")
	}
}
