package config

import (
	"testing"
)

func TestLoadNonexistentFile(t *testing.T) {
	if _, err := Load("/definitely/not/a/real/inferd-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.yaml", "addr: :8080\ncache:\n: broken\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected YAML unmarshal error")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.json", `{ "addr": ":8080", "models_dir": }`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected JSON unmarshal error")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.toml", "addr=:8080\nmodels_dir\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected TOML unmarshal error")
	}
}

func TestLoadWrongFieldType(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad-types.yaml", "serving:\n  queue_size: plenty\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected type error for non-numeric queue_size")
	}
}
