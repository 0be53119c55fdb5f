package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all termcore configuration.
type Config struct {
	Server    ServerConfig
	Terminal  TerminalConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"7070"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// TerminalConfig holds defaults for new terminal sessions.
type TerminalConfig struct {
	// Shell is the executable spawned for new sessions. Empty means $SHELL,
	// falling back to /bin/sh.
	Shell string `envconfig:"TERM_SHELL" default:""`
	Cols  uint16 `envconfig:"TERM_COLS" default:"80"`
	Rows  uint16 `envconfig:"TERM_ROWS" default:"24"`

	// BufferCapacity bounds each session's output buffer; the oldest bytes
	// are evicted when it fills.
	BufferCapacity int `envconfig:"TERM_BUFFER_CAPACITY" default:"1048576"`

	// StopGrace is how long Stop waits for a graceful exit after SIGTERM
	// before escalating to SIGKILL.
	StopGrace time.Duration `envconfig:"TERM_STOP_GRACE" default:"500ms"`

	// WriteTimeout bounds how long a Write waits for the pty to drain when
	// the kernel buffer is full.
	WriteTimeout time.Duration `envconfig:"TERM_WRITE_TIMEOUT" default:"5s"`

	// PollInterval is the cadence at which streaming connections pump
	// session output.
	PollInterval time.Duration `envconfig:"TERM_POLL_INTERVAL" default:"20ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "7070",
			Host: "0.0.0.0",
		},
		Terminal: TerminalConfig{
			Cols:           80,
			Rows:           24,
			BufferCapacity: 1 << 20,
			StopGrace:      500 * time.Millisecond,
			WriteTimeout:   5 * time.Second,
			PollInterval:   20 * time.Millisecond,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
