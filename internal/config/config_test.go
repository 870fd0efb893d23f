package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
server:
  port: "9090"
  allowedOrigins: ["http://localhost:5173"]
  allowQueryIdentity: true
judge:
  url: http://judge.local/api/v2/execute
  timeout: 20s
challenge:
  lockTTL: 45s
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Fatalf("expected one origin, got %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.Server.AllowQueryIdentity {
		t.Fatalf("expected query identity enabled")
	}
	if got := TTLDuration(cfg.Challenge.LockTTL, time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s lock ttl, got %s", got)
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("JUDGE_URL", "http://judge.env/execute")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6390")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Judge.URL != "http://judge.env/execute" || cfg.Redis.Addr != "127.0.0.1:6390" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Server.AllowQueryIdentity {
		t.Fatalf("expected query identity off by default")
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := TTLDuration("bogus", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback on parse error, got %s", got)
	}
}
