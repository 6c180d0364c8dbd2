package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POUCH_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.URL != "http://127.0.0.1:8090" {
		t.Errorf("remote url = %q", cfg.Remote.URL)
	}
	if cfg.Sync.ProbeInterval != 15*time.Second {
		t.Errorf("probe interval = %s, want 15s", cfg.Sync.ProbeInterval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[remote]
url = "https://pouch.example.com"
identity = "me@example.com"

[sync]
probe_interval = "5s"

[storage]
dir = "/tmp/pouch-test"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POUCH_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.URL != "https://pouch.example.com" {
		t.Errorf("remote url = %q", cfg.Remote.URL)
	}
	if cfg.Sync.ProbeInterval != 5*time.Second {
		t.Errorf("probe interval = %s, want 5s", cfg.Sync.ProbeInterval)
	}
	if got := cfg.QueuePath(); got != "/tmp/pouch-test/queue.db" {
		t.Errorf("queue path = %q", got)
	}
	if got := cfg.CachePath(); got != "/tmp/pouch-test/cache" {
		t.Errorf("cache path = %q", got)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("POUCH_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.toml"))
	t.Setenv("POUCH_REMOTE_PASSWORD", "hunter2")
	t.Setenv("POUCH_SERVER_ADDR", "0.0.0.0:9191")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.Password != "hunter2" {
		t.Errorf("password not taken from env")
	}
	if cfg.Server.Addr != "0.0.0.0:9191" {
		t.Errorf("server addr = %q, want env override", cfg.Server.Addr)
	}
}
