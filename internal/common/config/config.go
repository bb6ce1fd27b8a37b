// Package config provides configuration management for TickerDesk.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the conversation stream service.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Stream  StreamConfig  `mapstructure:"stream"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// StreamConfig holds conversation stream reconstruction configuration.
type StreamConfig struct {
	// SubjectPrefix is the event bus subject prefix for agent stream events.
	// Events are consumed from "<prefix>.<sessionID>".
	SubjectPrefix string `mapstructure:"subjectPrefix"`

	// FlushIntervalMs is the batched snapshot flush interval in milliseconds.
	FlushIntervalMs int `mapstructure:"flushIntervalMs"`
}

// HistoryConfig holds event history store configuration.
type HistoryConfig struct {
	// Driver selects the history backend: "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file path (sqlite driver only).
	Path string `mapstructure:"path"`

	// DSN is the PostgreSQL connection string (postgres driver only).
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// FlushInterval returns the snapshot flush interval as a time.Duration.
func (s *StreamConfig) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalMs) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("TICKERDESK_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "tickerdesk-stream")
	v.SetDefault("nats.maxReconnects", 10)

	// Stream defaults
	v.SetDefault("stream.subjectPrefix", "agent.stream")
	v.SetDefault("stream.flushIntervalMs", 150)

	// History defaults
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.path", "~/.tickerdesk/history.db")
	v.SetDefault("history.dsn", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TICKERDESK_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/tickerdesk/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("TICKERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("stream.subjectPrefix", "TICKERDESK_STREAM_SUBJECT_PREFIX")
	_ = v.BindEnv("stream.flushIntervalMs", "TICKERDESK_STREAM_FLUSH_INTERVAL_MS")
	_ = v.BindEnv("nats.maxReconnects", "TICKERDESK_NATS_MAX_RECONNECTS")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tickerdesk/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Stream.FlushIntervalMs <= 0 {
		errs = append(errs, "stream.flushIntervalMs must be positive")
	}
	if cfg.Stream.SubjectPrefix == "" {
		errs = append(errs, "stream.subjectPrefix is required")
	}

	switch cfg.History.Driver {
	case "sqlite":
		if cfg.History.Path == "" {
			errs = append(errs, "history.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.History.DSN == "" {
			errs = append(errs, "history.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "history.driver must be one of: sqlite, postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
