package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fluxion.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTOML(t, `dir = "/srv/app"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MaxRequestBytes != 10<<20 {
		t.Errorf("MaxRequestBytes = %d", cfg.MaxRequestBytes)
	}
	if !cfg.WorkerStrategyAll {
		t.Errorf("WorkerStrategyAll should default true")
	}
}

func TestLoad_RejectsNonPositiveMaxRequestBytes(t *testing.T) {
	path := writeTOML(t, `
dir = "/srv/app"
max_request_bytes = 0
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for maxRequestBytes <= 0")
	}
}

func TestLoad_RejectsMissingDir(t *testing.T) {
	path := writeTOML(t, `host = "0.0.0.0"`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestLoad_FixedWorkerStrategy(t *testing.T) {
	path := writeTOML(t, `
dir = "/srv/app"
worker_strategy_all = false
databases = ["db1", "db2"]

[[workers]]
id = "w1"
db = ["db1"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Workers) != 1 || cfg.Workers[0].ID != "w1" {
		t.Fatalf("Workers = %+v", cfg.Workers)
	}
}

func TestLoad_RejectsDuplicateWorkerID(t *testing.T) {
	path := writeTOML(t, `
dir = "/srv/app"
worker_strategy_all = false

[[workers]]
id = "w1"
db = ["db1"]

[[workers]]
id = "w1"
db = ["db2"]
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for duplicate worker id")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeTOML(t, `dir = "/srv/app"`)
	t.Setenv("FLUXION_PORT", "9090")
	t.Setenv("FLUXION_DATABASES", "db1, db2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090 from env", cfg.Port)
	}
	if len(cfg.Databases) != 2 || cfg.Databases[0] != "db1" {
		t.Errorf("Databases = %v", cfg.Databases)
	}
}

func TestLoad_MissingPathUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("FLUXION_DIR", "/srv/app")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dir != "/srv/app" {
		t.Errorf("Dir = %q", cfg.Dir)
	}
}
