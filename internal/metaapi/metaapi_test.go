package metaapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxion-run/fluxion/internal/engine"
	"github.com/fluxion-run/fluxion/internal/metrics"
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

func newTestHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	root := t.TempDir()
	write(t, filepath.Join(root, "aaa", "index.mjs"), `export default function(req,res){ res.end("ok"); };`)
	write(t, filepath.Join(root, "public", "app.js"), `1`)

	limits := supervisor.DefaultLimits()
	limits.RequestTimeout = 2 * time.Second
	reg := metrics.New()

	e, err := engine.New(engine.Config{
		Dir:               root,
		DeclaredDatabases: map[string]struct{}{},
		Workers: []engine.WorkerSpec{
			{ID: "fluxion-worker-all", DBSet: map[string]struct{}{}, Limits: &limits},
		},
		Metrics: reg,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)

	return New(e, reg, nil), root
}

func TestRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/_fluxion/routes", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var body routesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Routes.Handlers) != 1 || body.Routes.Handlers[0].Route != "/aaa" {
		t.Fatalf("handlers = %+v", body.Routes.Handlers)
	}
	if len(body.Routes.StaticFiles) != 1 {
		t.Fatalf("statics = %+v", body.Routes.StaticFiles)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/_fluxion/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != true {
		t.Fatalf("body = %+v", body)
	}
}

func TestWorkers(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/_fluxion/workers", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var body workersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Workers) != 1 {
		t.Fatalf("workers = %+v", body.Workers)
	}
	if body.Workers[0].ID != "fluxion-worker-all" {
		t.Fatalf("workers = %+v", body.Workers)
	}
}

func TestMetrics_Exposed(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/_fluxion/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
}
