package config

import (
	"os"
	"time"

	"github.com/doridoridoriand/classwatch/internal/roster"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval       = 30 * time.Second
	DefaultFeedTimeout    = 10 * time.Second
	DefaultStaleAfter     = 7 * time.Hour
	DefaultMaxConcurrency = 1
	DefaultTimezone       = "Local"
	DefaultDriver         = "pgx"
	DefaultUIRefresh      = time.Second
	DefaultWSBroadcast    = 2 * time.Second
	DefaultLogLevel       = "info"
)

// Config is the parsed configuration file.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Class    ClassConfig    `yaml:"class"`

	// Roster is an inline class roster used instead of the database.
	Roster []roster.Student `yaml:"roster"`

	UI      UIConfig      `yaml:"ui"`
	Metrics MetricsConfig `yaml:"metrics"`
	WS      WSConfig      `yaml:"ws"`
	Log     LogConfig     `yaml:"log"`
}

// DatabaseConfig locates the school database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	// DSNEnv names the environment variable holding the connection string.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the connection string resolved from the environment.
func (d DatabaseConfig) DSN() string {
	if d.DSNEnv == "" {
		return ""
	}
	return os.Getenv(d.DSNEnv)
}

// FeedConfig configures the status feed client.
type FeedConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	Auth     AuthConfig    `yaml:"auth"`
}

// AuthConfig specifies how the feed is authenticated.
type AuthConfig struct {
	// Mode is one of: none | apikey | bearer | basic.
	Mode        string `yaml:"mode"`
	Header      string `yaml:"header"`
	KeyEnv      string `yaml:"key_env"`
	TokenEnv    string `yaml:"token_env"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// MonitorConfig controls the polling loop.
type MonitorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	// Timezone is the IANA zone feed timestamps are written in.
	Timezone string `yaml:"timezone"`
}

// ClassConfig selects the class to monitor.
type ClassConfig struct {
	ID       string `yaml:"id"`
	SchoolID string `yaml:"school_id"`
	Name     string `yaml:"name"`
}

// Context converts the section to a roster.ClassContext.
func (c ClassConfig) Context() roster.ClassContext {
	return roster.ClassContext{ClassID: c.ID, SchoolID: c.SchoolID, ClassName: c.Name}
}

type UIConfig struct {
	Disable bool          `yaml:"disable"`
	Refresh time.Duration `yaml:"refresh"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type WSConfig struct {
	Listen    string        `yaml:"listen"`
	Broadcast time.Duration `yaml:"broadcast"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File receives log lines instead of stderr when set.
	File string `yaml:"file"`
}

// CLIOverrides holds optional CLI values that override config file values.
type CLIOverrides struct {
	Interval       *time.Duration
	Timeout        *time.Duration
	MaxConcurrency *int
	ClassID        *string
	MetricsListen  *string
	WSListen       *string
	UIDisable      *bool
	LogLevel       *string
}
