// Package config resolves bridge settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/tickbridge"
	"github.com/luciancaetano/tickbridge/internal/logging"
)

// DefaultPort is used when TVP_WS_PORT is unset or unparsable.
const DefaultPort = 3000

// Environment variables.
const (
	EnvPort           = "TVP_WS_PORT"
	EnvHostCommand    = "TICKBRIDGE_HOST_COMMAND"
	EnvSourceEncoding = "TICKBRIDGE_SOURCE_ENCODING"
	EnvTickInterval   = "TICKBRIDGE_TICK_INTERVAL"
	EnvLogLevel       = "TICKBRIDGE_LOG_LEVEL"
	EnvLogFormat      = "TICKBRIDGE_LOG_FORMAT"
	EnvLogFile        = "TICKBRIDGE_LOG_FILE"
	EnvRateLimit      = "TICKBRIDGE_RATE_LIMIT"
	EnvRateBurst      = "TICKBRIDGE_RATE_BURST"
	EnvURL            = "TICKBRIDGE_URL"
)

// Config holds every setting of the bridge process.
type Config struct {
	// Host is the listen host; empty means all interfaces.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`

	HostCommand    string        `yaml:"host_command"`
	SourceEncoding string        `yaml:"source_encoding"`
	TickInterval   time.Duration `yaml:"tick_interval"`

	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Warnings collects ignored environment values.
	Warnings []string `yaml:"-"`
}

// LogConfig selects logger output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// RateLimitConfig is the per-connection frame rate limit. Zero PerSecond
// disables it.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Enabled reports whether a limit is configured.
func (r RateLimitConfig) Enabled() bool {
	return r.PerSecond > 0
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:         DefaultPort,
		Path:         "/",
		HostCommand:  tickbridge.DefaultHostCommand,
		TickInterval: 20 * time.Millisecond,
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
			File:   logging.DefaultFile,
		},
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Load returns defaults overlaid with the YAML file at path (if non-empty)
// and then the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.MergeYAML(data)
}

// MergeYAML overlays the YAML document onto c. Unknown keys are rejected.
func (c *Config) MergeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment values. An unparsable value is ignored, keeps
// the current setting, and is recorded in Warnings.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get(EnvPort); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			c.Port = port
		} else {
			c.warn(EnvPort, v)
		}
	}
	if v, ok := get(EnvHostCommand); ok {
		c.HostCommand = v
	}
	if v, ok := get(EnvSourceEncoding); ok {
		c.SourceEncoding = v
	}
	if v, ok := get(EnvTickInterval); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.TickInterval = d
		} else {
			c.warn(EnvTickInterval, v)
		}
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := get(EnvLogFormat); ok {
		c.Log.Format = v
	}
	if v, ok := get(EnvLogFile); ok {
		c.Log.File = v
	}
	if v, ok := get(EnvRateLimit); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 {
			c.RateLimit.PerSecond = n
		} else {
			c.warn(EnvRateLimit, v)
		}
	}
	if v, ok := get(EnvRateBurst); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.Burst = n
		} else {
			c.warn(EnvRateBurst, v)
		}
	}
}

func (c *Config) warn(key, value string) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring %s=%q", key, value))
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.HostCommand == "" || strings.ContainsAny(c.HostCommand, " \t\r\n") {
		return fmt.Errorf("invalid host command %q", c.HostCommand)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", c.TickInterval)
	}
	if c.RateLimit.PerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit.PerSecond)
	}
	if c.RateLimit.Enabled() && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit burst must be positive when a rate is set")
	}
	return nil
}
