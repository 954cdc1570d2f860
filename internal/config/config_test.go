package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultAccount = "work"
	cfg.Sync.MaxDelay = Duration(time.Minute)
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultAccount != "work" {
		t.Errorf("DefaultAccount = %q, want %q", loaded.DefaultAccount, "work")
	}
	if loaded.Sync.MaxDelay.D() != time.Minute {
		t.Errorf("MaxDelay = %s, want 1m", loaded.Sync.MaxDelay.D())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want default 5", cfg.Sync.MaxRetries)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[sync]
base_delay = "250ms"
cleanup = "keep"

[metrics]
listen = "127.0.0.1:9464"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.BaseDelay.D() != 250*time.Millisecond {
		t.Errorf("BaseDelay = %s", cfg.Sync.BaseDelay.D())
	}
	if cfg.Sync.Cleanup != "keep" || cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Sync.MaxDelay.D() != 30*time.Second || cfg.Sync.MaxRetries != 5 {
		t.Errorf("defaults lost: %+v", cfg.Sync)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync]\nmax_delay = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted an invalid duration")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OFFSYNC_MAX_RETRIES":    "9",
		"OFFSYNC_BASE_DELAY":     "2s",
		"OFFSYNC_API_BASE_URL":   "https://api.example.test",
		"OFFSYNC_ASSUME_ONLINE":  "false",
		"OFFSYNC_QUOTA_BYTES":    "1048576",
		"OFFSYNC_METRICS_LISTEN": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.Metrics.Listen = "keep-me"
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.MaxRetries != 9 || cfg.Sync.BaseDelay.D() != 2*time.Second {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.API.BaseURL != "https://api.example.test" || cfg.Network.AssumeOnline {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Storage.QuotaBytes != 1<<20 {
		t.Errorf("QuotaBytes = %d", cfg.Storage.QuotaBytes)
	}
	if cfg.Metrics.Listen != "keep-me" {
		t.Errorf("empty variable overrode Listen: %q", cfg.Metrics.Listen)
	}
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	env := map[string]string{
		"OFFSYNC_MAX_RETRIES": "many",
		"OFFSYNC_MAX_DELAY":   "later",
	}
	err := ApplyEnv(Default(), func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err == nil {
		t.Fatal("ApplyEnv() accepted bad values")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OFFSYNC_TEST_DOTENV=loaded\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("OFFSYNC_TEST_DOTENV") })

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("OFFSYNC_TEST_DOTENV"); got != "loaded" {
		t.Errorf("OFFSYNC_TEST_DOTENV = %q", got)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
