package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML config at path, fills defaults, applies CLI overrides
// and validates the result. A .env file next to the config, if present, is
// loaded into the environment first; variables already set are kept.
func Load(path string, overrides CLIOverrides) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyCLIOverrides(cfg, overrides)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Location returns the zone feed timestamps are parsed in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Monitor.Timezone)
}

func loadDotEnv(configPath string) error {
	path := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: DefaultDriver},
		Feed:     FeedConfig{Timeout: DefaultFeedTimeout},
		Monitor: MonitorConfig{
			Interval:       DefaultInterval,
			StaleAfter:     DefaultStaleAfter,
			MaxConcurrency: DefaultMaxConcurrency,
			Timezone:       DefaultTimezone,
		},
		UI:  UIConfig{Refresh: DefaultUIRefresh},
		WS:  WSConfig{Broadcast: DefaultWSBroadcast},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

func validate(cfg *Config) error {
	if cfg.Feed.Endpoint == "" {
		return fmt.Errorf("feed.endpoint is required")
	}
	if cfg.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	switch cfg.Feed.Auth.Mode {
	case "", "none":
	case "apikey":
		if cfg.Feed.Auth.Header == "" || cfg.Feed.Auth.KeyEnv == "" {
			return fmt.Errorf("feed.auth: apikey mode needs header and key_env")
		}
	case "bearer":
		if cfg.Feed.Auth.TokenEnv == "" {
			return fmt.Errorf("feed.auth: bearer mode needs token_env")
		}
	case "basic":
		if cfg.Feed.Auth.Username == "" || cfg.Feed.Auth.PasswordEnv == "" {
			return fmt.Errorf("feed.auth: basic mode needs username and password_env")
		}
	default:
		return fmt.Errorf("feed.auth: unknown mode %q", cfg.Feed.Auth.Mode)
	}

	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if cfg.Monitor.StaleAfter <= 0 {
		return fmt.Errorf("monitor.stale_after must be positive")
	}
	if cfg.Monitor.MaxConcurrency < 1 {
		return fmt.Errorf("monitor.max_concurrency must be at least 1")
	}
	if _, err := time.LoadLocation(cfg.Monitor.Timezone); err != nil {
		return fmt.Errorf("monitor.timezone: %w", err)
	}

	if cfg.Database.DSNEnv == "" && len(cfg.Roster) == 0 {
		return fmt.Errorf("either database.dsn_env or roster is required")
	}
	seen := make(map[int64]bool, len(cfg.Roster))
	for i, st := range cfg.Roster {
		if st.NationalCode == "" {
			return fmt.Errorf("roster[%d]: national_code is required", i)
		}
		if seen[st.ID] {
			return fmt.Errorf("roster[%d]: duplicate id %d", i, st.ID)
		}
		seen[st.ID] = true
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	if cfg.UI.Refresh <= 0 {
		return fmt.Errorf("ui.refresh must be positive")
	}
	if cfg.WS.Broadcast <= 0 {
		return fmt.Errorf("ws.broadcast must be positive")
	}
	return nil
}

func applyCLIOverrides(cfg *Config, overrides CLIOverrides) {
	if overrides.Interval != nil {
		cfg.Monitor.Interval = *overrides.Interval
	}
	if overrides.Timeout != nil {
		cfg.Feed.Timeout = *overrides.Timeout
	}
	if overrides.MaxConcurrency != nil {
		cfg.Monitor.MaxConcurrency = *overrides.MaxConcurrency
	}
	if overrides.ClassID != nil {
		cfg.Class.ID = *overrides.ClassID
	}
	if overrides.MetricsListen != nil {
		cfg.Metrics.Listen = *overrides.MetricsListen
	}
	if overrides.WSListen != nil {
		cfg.WS.Listen = *overrides.WSListen
	}
	if overrides.UIDisable != nil {
		cfg.UI.Disable = *overrides.UIDisable
	}
	if overrides.LogLevel != nil {
		cfg.Log.Level = *overrides.LogLevel
	}
	cfg.Metrics.Listen = normalizeListen(cfg.Metrics.Listen)
	cfg.WS.Listen = normalizeListen(cfg.WS.Listen)
}

// normalizeListen turns a bare port such as "9100" into ":9100".
func normalizeListen(value string) string {
	if isDigits(value) {
		return ":" + value
	}
	return value
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
