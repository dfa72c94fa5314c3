// Package config provides configuration for the observer.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the observer configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Session tracking
	SessionTimeout       time.Duration
	SessionSweepInterval time.Duration

	// Detector
	ToolTimeoutThreshold time.Duration
	FailureWindow        time.Duration
	FailureThreshold     int
	PolicyFile           string

	// Trace context window bounds
	ContextWindowMin time.Duration
	ContextWindowMax time.Duration

	// Streaming
	SnapshotSize int
	RedisURL     string
	RedisStream  string

	AutoSummarize bool
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:             4000,
		DatabaseURL:          "observer.db",
		LogLevel:             "info",
		LogFormat:            "text",
		SessionTimeout:       10 * time.Minute,
		SessionSweepInterval: time.Minute,
		ToolTimeoutThreshold: 30 * time.Second,
		FailureWindow:        5 * time.Minute,
		FailureThreshold:     3,
		ContextWindowMin:     time.Minute,
		ContextWindowMax:     time.Hour,
		SnapshotSize:         300,
		RedisStream:          "observer.events",
		AutoSummarize:        true,
	}
}

// fileConfig mirrors the TOML layout. Unset keys keep their defaults.
type fileConfig struct {
	HTTPPort      *int    `toml:"http_port"`
	DatabaseURL   *string `toml:"database_url"`
	AutoSummarize *bool   `toml:"auto_summarize"`

	Log struct {
		Level  *string `toml:"level"`
		Format *string `toml:"format"`
	} `toml:"log"`

	Session struct {
		TimeoutMs       *int `toml:"timeout_ms"`
		SweepIntervalMs *int `toml:"sweep_interval_ms"`
	} `toml:"session"`

	Detector struct {
		ToolTimeoutThresholdMs *int    `toml:"tool_timeout_threshold_ms"`
		FailureWindowMs        *int    `toml:"failure_window_ms"`
		FailureThreshold       *int    `toml:"failure_threshold"`
		PolicyFile             *string `toml:"policy_file"`
	} `toml:"detector"`

	Trace struct {
		ContextWindowMinMs *int `toml:"context_window_min_ms"`
		ContextWindowMaxMs *int `toml:"context_window_max_ms"`
	} `toml:"trace"`

	Stream struct {
		SnapshotSize *int    `toml:"snapshot_size"`
		RedisURL     *string `toml:"redis_url"`
		RedisStream  *string `toml:"redis_stream"`
	} `toml:"stream"`
}

// Load builds the configuration from defaults, then the TOML file at path
// (or OBSERVER_CONFIG when path is empty), then environment variables. A
// .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("OBSERVER_CONFIG")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	setInt(&c.HTTPPort, fc.HTTPPort)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	if fc.AutoSummarize != nil {
		c.AutoSummarize = *fc.AutoSummarize
	}
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)
	setMillis(&c.SessionTimeout, fc.Session.TimeoutMs)
	setMillis(&c.SessionSweepInterval, fc.Session.SweepIntervalMs)
	setMillis(&c.ToolTimeoutThreshold, fc.Detector.ToolTimeoutThresholdMs)
	setMillis(&c.FailureWindow, fc.Detector.FailureWindowMs)
	setInt(&c.FailureThreshold, fc.Detector.FailureThreshold)
	setString(&c.PolicyFile, fc.Detector.PolicyFile)
	setMillis(&c.ContextWindowMin, fc.Trace.ContextWindowMinMs)
	setMillis(&c.ContextWindowMax, fc.Trace.ContextWindowMaxMs)
	setInt(&c.SnapshotSize, fc.Stream.SnapshotSize)
	setString(&c.RedisURL, fc.Stream.RedisURL)
	setString(&c.RedisStream, fc.Stream.RedisStream)
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.SessionTimeout = getEnvMillis("SESSION_TIMEOUT_MS", c.SessionTimeout)
	c.SessionSweepInterval = getEnvMillis("SESSION_SWEEP_INTERVAL_MS", c.SessionSweepInterval)
	c.ToolTimeoutThreshold = getEnvMillis("TOOL_TIMEOUT_THRESHOLD_MS", c.ToolTimeoutThreshold)
	c.FailureWindow = getEnvMillis("FAILURE_WINDOW_MS", c.FailureWindow)
	c.FailureThreshold = getEnvInt("FAILURE_THRESHOLD", c.FailureThreshold)
	c.PolicyFile = getEnv("POLICY_FILE", c.PolicyFile)
	c.ContextWindowMin = getEnvMillis("CONTEXT_WINDOW_MIN_MS", c.ContextWindowMin)
	c.ContextWindowMax = getEnvMillis("CONTEXT_WINDOW_MAX_MS", c.ContextWindowMax)
	c.SnapshotSize = getEnvInt("SNAPSHOT_SIZE", c.SnapshotSize)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RedisStream = getEnv("REDIS_STREAM", c.RedisStream)
	c.AutoSummarize = getEnvBool("AUTO_SUMMARIZE", c.AutoSummarize)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.HTTPPort <= 0 || c.HTTPPort > 65535:
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	case c.DatabaseURL == "":
		return errors.New("DATABASE_URL is required")
	case c.SessionTimeout <= 0:
		return errors.New("SESSION_TIMEOUT_MS must be positive")
	case c.SessionSweepInterval <= 0:
		return errors.New("SESSION_SWEEP_INTERVAL_MS must be positive")
	case c.FailureThreshold <= 0:
		return errors.New("FAILURE_THRESHOLD must be positive")
	case c.ContextWindowMin <= 0 || c.ContextWindowMax < c.ContextWindowMin:
		return fmt.Errorf("invalid context window bounds %s..%s", c.ContextWindowMin, c.ContextWindowMax)
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setMillis(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Millisecond
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
