package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "SCRIBE_DEBOUNCE_MS", "SCRIBE_AUTOSAVE_MS", "SCRIBE_COALESCE_MS", "SCRIBE_HISTORY_DEPTH", "MINIO_ENDPOINT", "LOG_PRETTY"} {
		t.Setenv(key, "")
	}
	cfg := fromEnv()
	if cfg.Addr != ":8787" || cfg.DBMaxConns != 20 {
		t.Fatalf("unexpected addr %q or pool size %d", cfg.Addr, cfg.DBMaxConns)
	}
	if cfg.DebounceWindow != 500*time.Millisecond || cfg.AutosaveInterval != 5*time.Second {
		t.Fatalf("unexpected timing %v %v", cfg.DebounceWindow, cfg.AutosaveInterval)
	}
	if cfg.CoalesceWindow != 0 || cfg.HistoryDepth != 100 {
		t.Fatalf("unexpected history settings %v %d", cfg.CoalesceWindow, cfg.HistoryDepth)
	}
	if cfg.MinioEndpoint != "" || cfg.LogPretty {
		t.Fatalf("expected optional features off, got %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SCRIBE_DEBOUNCE_MS", "250")
	t.Setenv("SCRIBE_AUTOSAVE_MS", "-1")
	t.Setenv("SCRIBE_COALESCE_MS", "800")
	t.Setenv("SCRIBE_HISTORY_DEPTH", "not-a-number")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("LOG_PRETTY", "1")

	cfg := fromEnv()
	if cfg.DebounceWindow != 250*time.Millisecond {
		t.Fatalf("unexpected debounce %v", cfg.DebounceWindow)
	}
	if cfg.AutosaveInterval != 5*time.Second {
		t.Fatalf("expected non-positive autosave to fall back, got %v", cfg.AutosaveInterval)
	}
	if cfg.CoalesceWindow != 800*time.Millisecond || cfg.HistoryDepth != 100 {
		t.Fatalf("unexpected history settings %v %d", cfg.CoalesceWindow, cfg.HistoryDepth)
	}
	if !cfg.MinioUseSSL || !cfg.LogPretty {
		t.Fatal("expected boolean overrides")
	}
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("API_ADDR=:9999\nMINIO_BUCKET=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("API_ADDR", ":7000")
	t.Setenv("MINIO_BUCKET", "")
	os.Unsetenv("MINIO_BUCKET")

	if err := godotenv.Load(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	cfg := fromEnv()
	if cfg.Addr != ":7000" {
		t.Fatalf("expected environment to win, got %q", cfg.Addr)
	}
	if cfg.MinioBucket != "from-file" {
		t.Fatalf("expected value from file, got %q", cfg.MinioBucket)
	}
}
