package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabasePath      string        `yaml:"database_path"`
	BindAddress       string        `yaml:"bind_address"`
	UnixSocketPath    string        `yaml:"unix_socket"`
	RequireToken      bool          `yaml:"require_token"`
	BearerToken       string        `yaml:"bearer_token"`
	EnrichmentURL     string        `yaml:"enrichment_url"`
	EnrichmentTimeout time.Duration `yaml:"enrichment_timeout"`
	ExpandDaysAhead   int           `yaml:"expand_days_ahead"`
	DetectWindowHours int           `yaml:"detect_window_hours"`
	MaintenanceSpec   string        `yaml:"maintenance_cron"`
	LogLevel          string        `yaml:"log_level"`
	CalendarName      string        `yaml:"calendar_name"`
}

// Load builds the config from an optional YAML file (HSCHED_CONFIG_FILE)
// with environment variables taking precedence over file values.
func Load() (Config, error) {
	cfg := Config{
		DatabasePath:      "scheduler.db",
		BindAddress:       "127.0.0.1:9471",
		RequireToken:      true,
		EnrichmentTimeout: 10 * time.Second,
		ExpandDaysAhead:   7,
		DetectWindowHours: 48,
		MaintenanceSpec:   "@every 1h",
		LogLevel:          "info",
		CalendarName:      "Household Schedule",
	}

	if path := strings.TrimSpace(os.Getenv("HSCHED_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.DatabasePath = getenvDefault("HSCHED_DB_PATH", cfg.DatabasePath)
	cfg.BindAddress = getenvDefault("HSCHED_BIND_ADDRESS", cfg.BindAddress)
	cfg.UnixSocketPath = getenvDefault("HSCHED_UNIX_SOCKET", cfg.UnixSocketPath)
	cfg.RequireToken = getenvBool("HSCHED_REQUIRE_TOKEN", cfg.RequireToken)
	cfg.BearerToken = getenvDefault("HSCHED_BEARER_TOKEN", cfg.BearerToken)
	cfg.EnrichmentURL = getenvDefault("HSCHED_ENRICHMENT_URL", cfg.EnrichmentURL)
	cfg.EnrichmentTimeout = getenvDuration("HSCHED_ENRICHMENT_TIMEOUT", cfg.EnrichmentTimeout)
	cfg.ExpandDaysAhead = getenvInt("HSCHED_EXPAND_DAYS", cfg.ExpandDaysAhead)
	cfg.DetectWindowHours = getenvInt("HSCHED_DETECT_WINDOW_HOURS", cfg.DetectWindowHours)
	cfg.MaintenanceSpec = getenvDefault("HSCHED_MAINTENANCE_CRON", cfg.MaintenanceSpec)
	cfg.LogLevel = getenvDefault("HSCHED_LOG_LEVEL", cfg.LogLevel)
	cfg.CalendarName = getenvDefault("HSCHED_CALENDAR_NAME", cfg.CalendarName)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	if c.BindAddress == "" && c.UnixSocketPath == "" {
		return errors.New("either bind address or unix socket path must be configured")
	}
	if c.RequireToken && c.BearerToken == "" {
		return errors.New("HSCHED_BEARER_TOKEN is required when token auth is enabled")
	}
	if c.EnrichmentTimeout <= 0 {
		return errors.New("enrichment timeout must be > 0")
	}
	if c.ExpandDaysAhead < 0 {
		return errors.New("expand days ahead must be >= 0")
	}
	if c.DetectWindowHours <= 0 {
		return errors.New("detect window must be > 0 hours")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
