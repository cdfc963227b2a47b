package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseConfig = `
port: "8081"
redisAddr: "localhost:6379"
jwksURL: "http://api:8080/auth/jwks"
llmBaseURL: "https://llm.example/v1"
llmModel: "gpt-4o-mini"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CatalogCacheTTL != 5*time.Minute {
		t.Fatalf("catalogCacheTTL = %s, want 5m", cfg.CatalogCacheTTL)
	}
	if cfg.ChatRateLimit != 20 || cfg.ChatRateWindow != time.Minute {
		t.Fatalf("chat limit = %d/%s, want 20/1m", cfg.ChatRateLimit, cfg.ChatRateWindow)
	}
	if cfg.LLMTimeout != time.Minute {
		t.Fatalf("llmTimeout = %s", cfg.LLMTimeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LLM_MODEL", "llama-3")
	t.Setenv("GHAZAL_CATALOG_URL", "http://api:8080")
	t.Setenv("GHAZAL_CHAT_RATE_LIMIT", "5")
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LLMModel != "llama-3" || cfg.CatalogURL != "http://api:8080" || cfg.ChatRateLimit != 5 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestLoadRequiresModel(t *testing.T) {
	content := strings.Replace(baseConfig, `llmModel: "gpt-4o-mini"`, "", 1)
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "llmModel") {
		t.Fatalf("expected llmModel error, got %v", err)
	}
}

func TestLoadRejectsBadRateWindow(t *testing.T) {
	t.Setenv("GHAZAL_CHAT_RATE_WINDOW", "soon")
	_, err := Load(writeConfig(t, baseConfig))
	if err == nil || !strings.Contains(err.Error(), "GHAZAL_CHAT_RATE_WINDOW") {
		t.Fatalf("expected rate window error, got %v", err)
	}
}
