package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HSCHED_CONFIG_FILE", "HSCHED_DB_PATH", "HSCHED_BIND_ADDRESS",
		"HSCHED_UNIX_SOCKET", "HSCHED_REQUIRE_TOKEN", "HSCHED_BEARER_TOKEN",
		"HSCHED_ENRICHMENT_URL", "HSCHED_ENRICHMENT_TIMEOUT", "HSCHED_EXPAND_DAYS",
		"HSCHED_DETECT_WINDOW_HOURS", "HSCHED_MAINTENANCE_CRON", "HSCHED_LOG_LEVEL",
		"HSCHED_CALENDAR_NAME",
	} {
		_ = os.Unsetenv(key)
	}
}

func TestLoadSuccess(t *testing.T) {
	clearEnv(t)
	t.Setenv("HSCHED_BEARER_TOKEN", "secret")
	t.Setenv("HSCHED_BIND_ADDRESS", "127.0.0.1:9999")
	t.Setenv("HSCHED_ENRICHMENT_TIMEOUT", "5s")
	t.Setenv("HSCHED_EXPAND_DAYS", "14")
	t.Setenv("HSCHED_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EnrichmentTimeout != 5*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.EnrichmentTimeout)
	}
	if cfg.ExpandDaysAhead != 14 {
		t.Fatalf("unexpected expansion window: %d", cfg.ExpandDaysAhead)
	}
	if cfg.BindAddress != "127.0.0.1:9999" {
		t.Fatalf("unexpected bind address: %q", cfg.BindAddress)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	data := []byte("database_path: /tmp/file.db\nbearer_token: from-file\nlog_level: warn\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HSCHED_CONFIG_FILE", path)
	t.Setenv("HSCHED_DB_PATH", "/tmp/env.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabasePath != "/tmp/env.db" {
		t.Fatalf("env should win over file, got %q", cfg.DatabasePath)
	}
	if cfg.BearerToken != "from-file" || cfg.LogLevel != "warn" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestValidateErrors(t *testing.T) {
	base := Config{
		DatabasePath:      "scheduler.db",
		BindAddress:       "127.0.0.1:1",
		BearerToken:       "x",
		RequireToken:      true,
		EnrichmentTimeout: time.Second,
		DetectWindowHours: 48,
		LogLevel:          "info",
	}
	cases := []func(*Config){
		func(c *Config) { c.DatabasePath = "" },
		func(c *Config) { c.BindAddress = ""; c.UnixSocketPath = "" },
		func(c *Config) { c.BearerToken = "" },
		func(c *Config) { c.EnrichmentTimeout = 0 },
		func(c *Config) { c.ExpandDaysAhead = -1 },
		func(c *Config) { c.DetectWindowHours = 0 },
		func(c *Config) { c.LogLevel = "trace" },
	}
	for i, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, cfg)
		}
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
}

func TestDefaultsWhenEnvInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("HSCHED_BEARER_TOKEN", "secret")
	t.Setenv("HSCHED_ENRICHMENT_TIMEOUT", "oops")
	t.Setenv("HSCHED_REQUIRE_TOKEN", "oops")
	t.Setenv("HSCHED_EXPAND_DAYS", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EnrichmentTimeout != 10*time.Second {
		t.Fatalf("expected default timeout, got %v", cfg.EnrichmentTimeout)
	}
	if !cfg.RequireToken {
		t.Fatalf("expected default true for RequireToken")
	}
	if cfg.ExpandDaysAhead != 7 {
		t.Fatalf("expected default expansion window, got %d", cfg.ExpandDaysAhead)
	}
}
