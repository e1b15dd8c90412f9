package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `addr: :9999
models_dir: /tmp
default_model: m1
cache:
  max_size: 50
  ttl_seconds: 60
serving:
  queue_size: 128
  workers: 2
memory:
  budget_mb: 4096
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.DefaultModel != "m1" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Cache.MaxSize != 50 || cfg.Cache.TTLSeconds != 60 {
		t.Fatalf("unexpected cache cfg: %+v", cfg.Cache)
	}
	if cfg.Serving.QueueSize != 128 || cfg.Serving.Workers != 2 {
		t.Fatalf("unexpected serving cfg: %+v", cfg.Serving)
	}
	if cfg.Memory.BudgetMB != 4096 {
		t.Fatalf("unexpected memory cfg: %+v", cfg.Memory)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","default_model":"m2","request_log":{"driver":"sqlite","dsn":"/tmp/log.db"}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.DefaultModel != "m2" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.RequestLog.Driver != "sqlite" || cfg.RequestLog.DSN != "/tmp/log.db" {
		t.Fatalf("unexpected request log cfg: %+v", cfg.RequestLog)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\ndefault_model=\"m3\"\n[cors]\nenabled=true\nallowed_origins=[\"https://app.example.com\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.DefaultModel != "m3" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.CORS.Enabled || len(cfg.CORS.AllowedOrigins) != 1 {
		t.Fatalf("unexpected cors cfg: %+v", cfg.CORS)
	}
}

func TestLoadKeepsDefaultsForUnsetFields(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9001\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if cfg.Cache.MaxSize != def.Cache.MaxSize || cfg.Serving.QueueSize != def.Serving.QueueSize {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}
