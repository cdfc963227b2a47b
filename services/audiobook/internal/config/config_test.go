package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseConfig = `
port: "8083"
databaseURL: "postgres://ghazal@localhost/ghazal"
redisAddr: "localhost:6379"
minioEndpoint: "localhost:9000"
minioAccessKey: "minio"
minioSecretKey: "minio123"
minioBucket: "ghazal"
jwksURL: "http://api:8080/auth/jwks"
ttsBaseURL: "https://tts.example/v1"
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
	if cfg.QueueStream != "ghazal:audiobooks" || cfg.QueueGroup != "audiobook" {
		t.Fatalf("queue = %s/%s", cfg.QueueStream, cfg.QueueGroup)
	}
	if cfg.WorkerConcurrency != 2 || cfg.SegmentConcurrency != 4 {
		t.Fatalf("concurrency = %d/%d", cfg.WorkerConcurrency, cfg.SegmentConcurrency)
	}
	if cfg.TTSModel != "tts-1" || cfg.AudioURLTTL != time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GHAZAL_WORKER_CONCURRENCY", "6")
	t.Setenv("TTS_MODEL", "tts-1-hd")
	t.Setenv("GHAZAL_AUDIO_URL_TTL", "15m")
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.WorkerConcurrency != 6 || cfg.TTSModel != "tts-1-hd" || cfg.AudioURLTTL != 15*time.Minute {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("GHAZAL_WORKER_CONCURRENCY", "many")
	_, err := Load(writeConfig(t, baseConfig))
	if err == nil || !strings.Contains(err.Error(), "GHAZAL_WORKER_CONCURRENCY") {
		t.Fatalf("expected env error, got %v", err)
	}
}

func TestLoadRequiresSpeechEndpoint(t *testing.T) {
	content := strings.Replace(baseConfig, `ttsBaseURL: "https://tts.example/v1"`, "", 1)
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "ttsBaseURL") {
		t.Fatalf("expected ttsBaseURL error, got %v", err)
	}
}
