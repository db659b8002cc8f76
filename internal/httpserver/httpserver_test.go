package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fluxion-run/fluxion/internal/engine"
	"github.com/fluxion-run/fluxion/internal/supervisor"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestServer(t *testing.T, root string, maxRequestBytes int64) *Server {
	t.Helper()
	limits := supervisor.DefaultLimits()
	limits.RequestTimeout = 2 * time.Second

	e, err := engine.New(engine.Config{
		Dir:               root,
		DeclaredDatabases: map[string]struct{}{},
		Workers: []engine.WorkerSpec{
			{ID: "fluxion-worker-all", DBSet: map[string]struct{}{}, Limits: &limits},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)

	return New(e, Config{MaxRequestBytes: maxRequestBytes})
}

func TestDispatch_NotFound(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, root, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Route not found") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestDispatch_HandlerSuccess(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "echo.mjs"), `export default function(req,res){ res.end(String(req.body.length)); };`)
	s := newTestServer(t, root, 8)

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("12345"))
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "5" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestDispatch_RequestBodyTooLarge(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "echo.mjs"), `export default function(req,res){ res.end(String(req.body.length)); };`)
	s := newTestServer(t, root, 8)

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("123456789"))
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "request body too large") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestDispatch_StaticWithHead(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "public", "app.js"), "console.log(1)")
	s := newTestServer(t, root, 1<<20)

	req := httptest.NewRequest(http.MethodHead, "/public/app.js", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/javascript; charset=utf-8" {
		t.Fatalf("content-type = %q", rec.Header().Get("Content-Type"))
	}
	body, _ := io.ReadAll(rec.Body)
	if len(body) != 0 {
		t.Fatalf("HEAD must return empty body, got %q", body)
	}
}

func TestDispatch_BrokenHandlerReturns500(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "broken.mjs"), `export default { broken: true };`)
	s := newTestServer(t, root, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/broken", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Internal Server Error") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
