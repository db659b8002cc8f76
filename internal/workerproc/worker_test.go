package workerproc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxion-run/fluxion/internal/protocol"
)

func writeHandler(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestWorker(t *testing.T, dbSet ...string) *Worker {
	t.Helper()
	set := make(map[string]struct{}, len(dbSet))
	for _, name := range dbSet {
		set[name] = struct{}{}
	}
	w := New(Options{
		WorkerID:             "test",
		DBSet:                set,
		MemorySampleInterval: time.Hour,
		MaxResponseBytes:     1 << 20,
	}, nil)
	w.Start()
	t.Cleanup(w.Close)
	return w
}

func TestExecute_SimpleFunctionHandler(t *testing.T) {
	dir := t.TempDir()
	path := writeHandler(t, dir, "hello.mjs", `
export default function(req, res) {
  res.setHeader("x-method", req.method);
  res.status(200);
  res.end("hello " + req.url);
}
`)
	w := newTestWorker(t)

	result := w.Execute(protocol.Execute{
		ID:       "1",
		FilePath: path,
		Version:  "1:10",
		Method:   "GET",
		URL:      "/hello",
	})

	if !result.OK {
		t.Fatalf("expected ok result, got error: %+v", result.Err)
	}
	if result.Response.Status != 200 {
		t.Fatalf("status = %d, want 200", result.Response.Status)
	}
	if got := string(result.Response.Body); got != "hello /hello" {
		t.Fatalf("body = %q", got)
	}
	if result.Response.Headers["x-method"] != "GET" {
		t.Fatalf("header not propagated: %+v", result.Response.Headers)
	}
}

func TestExecute_ObjectExportWithDB(t *testing.T) {
	dir := t.TempDir()
	path := writeHandler(t, dir, "widget.mjs", `
export default {
  db: ["db1", "db1", "db2"],
  handler: function(req, res, ctx) {
    res.end(ctx.hasDb("db1") ? "yes" : "no");
  },
};
`)
	w := newTestWorker(t, "db1", "db2")

	result := w.Execute(protocol.Execute{ID: "1", FilePath: path, Version: "v1", Method: "GET", URL: "/widget"})
	if !result.OK {
		t.Fatalf("expected ok, got %+v", result.Err)
	}
	if string(result.Response.Body) != "yes" {
		t.Fatalf("body = %q", result.Response.Body)
	}
	if len(result.Meta.DB) != 2 || result.Meta.DB[0] != "db1" || result.Meta.DB[1] != "db2" {
		t.Fatalf("meta.DB = %+v, want deduped+sorted [db1 db2]", result.Meta.DB)
	}
}

func TestExecute_DBNotAvailable(t *testing.T) {
	dir := t.TempDir()
	path := writeHandler(t, dir, "wide.mjs", `
export default { db: ["db1","db2"], handler: function(req,res){ res.end("x"); } };
`)
	w := newTestWorker(t, "db1")

	result := w.Execute(protocol.Execute{ID: "1", FilePath: path, Version: "v1", Method: "GET", URL: "/wide"})
	if result.OK {
		t.Fatalf("expected failure")
	}
	if result.Err.Code != protocol.CodeDBNotAvailable {
		t.Fatalf("code = %v, want %v", result.Err.Code, protocol.CodeDBNotAvailable)
	}
}

func TestExecute_VersionMismatchDoesNotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeHandler(t, dir, "cc.mjs", `export default function(req,res){ res.end("v1"); };`)
	w := newTestWorker(t)

	first := w.Execute(protocol.Execute{ID: "1", FilePath: path, Version: "v1", Method: "GET", URL: "/cc"})
	if !first.OK {
		t.Fatalf("first execute failed: %+v", first.Err)
	}

	second := w.Execute(protocol.Execute{ID: "2", FilePath: path, Version: "v2", Method: "GET", URL: "/cc"})
	if second.OK {
		t.Fatalf("expected version-mismatch failure")
	}
	if second.Err.Code != protocol.CodeVersionMismatch {
		t.Fatalf("code = %v, want %v", second.Err.Code, protocol.CodeVersionMismatch)
	}
}

func TestExecute_ResponseTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := writeHandler(t, dir, "big.mjs", `
export default function(req, res) {
  var chunk = "";
  for (var i = 0; i < 400; i++) { chunk += "x"; }
  res.end(chunk);
};
`)
	set := map[string]struct{}{}
	w := New(Options{WorkerID: "t", DBSet: set, MemorySampleInterval: time.Hour, MaxResponseBytes: 128}, nil)
	w.Start()
	t.Cleanup(w.Close)

	result := w.Execute(protocol.Execute{ID: "1", FilePath: path, Version: "v1", Method: "GET", URL: "/big"})
	if result.OK {
		t.Fatalf("expected failure")
	}
	if result.Err.Code != protocol.CodeResponseTooBig {
		t.Fatalf("code = %v, want %v", result.Err.Code, protocol.CodeResponseTooBig)
	}
}

func TestExecute_BrokenDefaultExport(t *testing.T) {
	dir := t.TempDir()
	path := writeHandler(t, dir, "broken.mjs", `export default { broken: true };`)
	w := newTestWorker(t)

	result := w.Execute(protocol.Execute{ID: "1", FilePath: path, Version: "v1", Method: "GET", URL: "/broken"})
	if result.OK {
		t.Fatalf("expected failure for non-function, non-handler export")
	}
}

func TestExecute_RequestBodyExposesLength(t *testing.T) {
	dir := t.TempDir()
	path := writeHandler(t, dir, "echo.mjs", `
export default function(req, res) {
  res.end(String(req.body.length) + "/" + String(req.body.byteLength));
}
`)
	w := newTestWorker(t)

	result := w.Execute(protocol.Execute{
		ID: "1", FilePath: path, Version: "v1", Method: "POST", URL: "/echo",
		Body: []byte("12345"),
	})
	if !result.OK {
		t.Fatalf("expected ok, got %+v", result.Err)
	}
	if got := string(result.Response.Body); got != "5/5" {
		t.Fatalf("body = %q, want \"5/5\" (req.body.length alongside req.body.byteLength)", got)
	}
}

func TestExecute_MemoryAttributionIsolatedPerWorker(t *testing.T) {
	dir := t.TempDir()
	heavyPath := writeHandler(t, dir, "heavy.mjs", `
export default function(req, res) {
  var buf = [];
  for (var i = 0; i < 200000; i++) { buf.push("x"); }
  res.end(String(buf.length));
}
`)
	idlePath := writeHandler(t, dir, "idle.mjs", `export default function(req,res){ res.end("ok"); };`)

	heavy := newTestWorker(t)
	idle := newTestWorker(t)

	idleBefore := idle.attributedAlloc.Load()

	result := heavy.Execute(protocol.Execute{ID: "1", FilePath: heavyPath, Version: "v1", Method: "GET", URL: "/heavy"})
	if !result.OK {
		t.Fatalf("heavy execute failed: %+v", result.Err)
	}
	if heavy.attributedAlloc.Load() == 0 {
		t.Fatalf("expected heavy worker to attribute nonzero allocation to itself")
	}

	idleResult := idle.Execute(protocol.Execute{ID: "2", FilePath: idlePath, Version: "v1", Method: "GET", URL: "/idle"})
	if !idleResult.OK {
		t.Fatalf("idle execute failed: %+v", idleResult.Err)
	}
	idleAfter := idle.attributedAlloc.Load()

	// The idle worker's own attribution must stay below what the heavy
	// worker, run just before it, racked up on its own counter;
	// a process-wide reading would have shown both rising together.
	if idleAfter-idleBefore >= heavy.attributedAlloc.Load() {
		t.Fatalf("idle worker's attributed allocation (%d) should not approach heavy worker's (%d); sample is not isolated per worker",
			idleAfter-idleBefore, heavy.attributedAlloc.Load())
	}
}

func TestInspect_DoesNotRunHandler(t *testing.T) {
	dir := t.TempDir()
	path := writeHandler(t, dir, "inspect.mjs", `
export default { db: ["db1"], handler: function(req,res){ throw new Error("should not run"); } };
`)
	w := newTestWorker(t, "db1")

	result := w.Inspect(protocol.Inspect{ID: "1", FilePath: path, Version: "v1"})
	if !result.OK {
		t.Fatalf("inspect failed: %+v", result.Err)
	}
	if len(result.Meta.DB) != 1 || result.Meta.DB[0] != "db1" {
		t.Fatalf("meta = %+v", result.Meta)
	}
}
