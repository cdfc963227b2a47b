package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("GHAZAL_MAX_CHARACTERS", "1000")
	cfg, err := Load(writeConfig(t, "port: \"8082\"\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MaxUploadBytes != 25<<20 {
		t.Fatalf("maxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.MaxCharacters != 1000 {
		t.Fatalf("maxCharacters = %d, want 1000", cfg.MaxCharacters)
	}
}

func TestLoadValidation(t *testing.T) {
	if _, err := Load(writeConfig(t, "logLevel: debug\n")); err == nil || !strings.Contains(err.Error(), "port") {
		t.Fatalf("expected port error, got %v", err)
	}
	if _, err := Load(writeConfig(t, "port: \"1\"\nmaxCharacters: -5\n")); err == nil {
		t.Fatalf("expected maxCharacters error")
	}
	t.Setenv("GHAZAL_MAX_UPLOAD_BYTES", "lots")
	if _, err := Load(writeConfig(t, "port: \"1\"\n")); err == nil || !strings.Contains(err.Error(), "GHAZAL_MAX_UPLOAD_BYTES") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}
