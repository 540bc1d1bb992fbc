package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cwd(t, t.TempDir()) // keep a stray ./config.yaml out of the picture

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Data.Dir != filepath.Join(home, ".mym") {
		t.Errorf("unexpected data dir %q", cfg.Data.Dir)
	}
	if cfg.Backend.Driver != "rest" {
		t.Errorf("unexpected driver %q", cfg.Backend.Driver)
	}
	if cfg.Sync.BatchSize != 50 || cfg.Sync.Interval != 30*time.Second {
		t.Errorf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if cfg.Daemon.LogMaxSizeMB != 10 || !cfg.Daemon.WatchIngest {
		t.Errorf("unexpected daemon defaults: %+v", cfg.Daemon)
	}
	if cfg.Dashboard.Port != 4280 || cfg.DevServer.Port != 8090 {
		t.Errorf("unexpected ports: %+v %+v", cfg.Dashboard, cfg.DevServer)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
backend:
  url: https://api.example.com
  timeout: 3s
  min_server_version: v1.2.0
sync:
  interval: 5s
  batch_size: 10
dashboard:
  port: 9000
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Backend.URL != "https://api.example.com" {
		t.Errorf("unexpected url %q", cfg.Backend.URL)
	}
	if cfg.Backend.Timeout != 3*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Backend.Timeout)
	}
	if cfg.Backend.MinServerVersion != "v1.2.0" {
		t.Errorf("unexpected minimum version %q", cfg.Backend.MinServerVersion)
	}
	if cfg.Sync.Interval != 5*time.Second || cfg.Sync.BatchSize != 10 {
		t.Errorf("unexpected sync settings: %+v", cfg.Sync)
	}
	if cfg.Dashboard.Port != 9000 {
		t.Errorf("unexpected dashboard port %d", cfg.Dashboard.Port)
	}
	// Unset sections keep their defaults.
	if cfg.Backend.Driver != "rest" {
		t.Errorf("unexpected driver %q", cfg.Backend.Driver)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cwd(t, t.TempDir())
	t.Setenv("MYM_BACKEND_URL", "http://localhost:8090")
	t.Setenv("MYM_SYNC_BATCH_SIZE", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backend.URL != "http://localhost:8090" {
		t.Errorf("env override ignored: %q", cfg.Backend.URL)
	}
	if cfg.Sync.BatchSize != 7 {
		t.Errorf("env override ignored: %d", cfg.Sync.BatchSize)
	}
}

func TestExplicitFileMustExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	good := func() *Config {
		return &Config{
			Data: DataConfig{Dir: "/tmp/mym"},
			Sync: SyncConfig{Interval: time.Second, BatchSize: 1},
		}
	}

	if err := good().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	c := good()
	c.Data.Dir = ""
	if err := c.Validate(); err == nil {
		t.Error("expected an error for an empty data dir")
	}

	c = good()
	c.Sync.BatchSize = 0
	if err := c.Validate(); err == nil {
		t.Error("expected an error for a zero batch size")
	}

	c = good()
	c.Sync.Interval = 0
	if err := c.Validate(); err == nil {
		t.Error("expected an error for a zero interval")
	}
}

func TestDataPaths(t *testing.T) {
	d := DataConfig{Dir: "/var/lib/mym"}

	if got := d.DatabasePath(); got != filepath.Join("/var/lib/mym", "ledger.db") {
		t.Errorf("unexpected database path %q", got)
	}
	if got := d.CredentialsPath(); got != filepath.Join("/var/lib/mym", "credentials.json") {
		t.Errorf("unexpected credentials path %q", got)
	}
	if got := d.LogPath(); got != filepath.Join("/var/lib/mym", "logs", "daemon.log") {
		t.Errorf("unexpected log path %q", got)
	}
}

// cwd moves the test into dir and back during cleanup.
func cwd(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
