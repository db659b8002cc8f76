package resolve

import (
	"os"
	"path/filepath"
	"testing"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveHandler_IndexWinsOverSibling(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "aaa", "bb", "cc", "index.mjs"), "index")
	mustWrite(t, filepath.Join(root, "aaa", "bb", "cc.mjs"), "sibling")

	h, ok, err := ResolveHandler(root, []string{"aaa", "bb", "cc"}, false)
	if err != nil || !ok {
		t.Fatalf("ResolveHandler() = %+v, %v, %v", h, ok, err)
	}
	if filepath.Base(h.AbsolutePath) != "index.mjs" {
		t.Fatalf("expected index.mjs to win, got %s", h.AbsolutePath)
	}
}

func TestResolveHandler_FallsBackToSibling(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "aaa", "bb", "cc.mjs"), "sibling")

	h, ok, err := ResolveHandler(root, []string{"aaa", "bb", "cc"}, false)
	if err != nil || !ok {
		t.Fatalf("ResolveHandler() = %+v, %v, %v", h, ok, err)
	}
	if filepath.Base(h.AbsolutePath) != "cc.mjs" {
		t.Fatalf("expected cc.mjs, got %s", h.AbsolutePath)
	}
}

func TestResolveHandler_RootIndex(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "index.mjs"), "root")

	h, ok, err := ResolveHandler(root, nil, false)
	if err != nil || !ok {
		t.Fatalf("ResolveHandler() = %+v, %v, %v", h, ok, err)
	}
	if h.RelativePath != "index.mjs" {
		t.Fatalf("RelativePath = %q", h.RelativePath)
	}
}

func TestResolveHandler_LiteralMjsNeverMatches(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "aaa.mjs"), "x")

	_, ok, err := ResolveHandler(root, []string{"aaa.mjs"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("literal .mjs path must never resolve as a handler")
	}
}

func TestResolveHandler_Miss(t *testing.T) {
	root := t.TempDir()
	_, ok, err := ResolveHandler(root, []string{"nope"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestRoute(t *testing.T) {
	cases := map[string]string{
		"index.mjs":         "/",
		"aaa/index.mjs":     "/aaa",
		"aaa/bb/cc.mjs":     "/aaa/bb/cc",
		"aaa/bb/index.mjs":  "/aaa/bb",
	}
	for rel, want := range cases {
		if got := Route(rel); got != want {
			t.Errorf("Route(%q) = %q, want %q", rel, got, want)
		}
	}
}

func TestResolveStatic(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "public", "app.js"), "console.log(1)")

	f, ok, err := ResolveStatic(root, []string{"public", "app.js"})
	if err != nil || !ok {
		t.Fatalf("ResolveStatic() = %+v, %v, %v", f, ok, err)
	}
	if f.ContentType != "text/javascript; charset=utf-8" {
		t.Fatalf("ContentType = %q", f.ContentType)
	}
}

func TestResolveStatic_NoBareDirectoryIndex(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "public", "app.js"), "x")

	_, ok, err := ResolveStatic(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("zero segments must never match a static file")
	}
}

func TestResolveStatic_RejectsMjsSuffix(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "secret.mjs"), "x")

	_, ok, err := ResolveStatic(root, []string{"secret.mjs"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf(".mjs files must never be served statically")
	}
}
