// Package config holds the engine configuration: defaults, an optional YAML
// file and NDGPU_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/ndgpu/internal/logger"
)

// Backend names.
const (
	BackendAuto = "auto"
	BackendWGPU = "wgpu"
	BackendCPU  = "cpu"
)

// Power preferences.
const (
	PowerHigh = "high-performance"
	PowerLow  = "low-power"
)

// Config configures device selection, logging and readback.
type Config struct {
	Backend         string        `yaml:"backend"`
	PowerPreference string        `yaml:"power_preference"`
	EnableF16       bool          `yaml:"enable_f16"`
	Workers         int           `yaml:"workers"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	MapTimeout      time.Duration `yaml:"map_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend:         BackendAuto,
		PowerPreference: PowerHigh,
		EnableF16:       true,
		LogLevel:        "info",
		LogFormat:       "text",
		MapTimeout:      30 * time.Second,
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults; an unreadable or malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Environment variable names.
const (
	EnvBackend    = "NDGPU_BACKEND"
	EnvPower      = "NDGPU_POWER"
	EnvF16        = "NDGPU_F16"
	EnvWorkers    = "NDGPU_WORKERS"
	EnvLogLevel   = "NDGPU_LOG_LEVEL"
	EnvLogFormat  = "NDGPU_LOG_FORMAT"
	EnvMapTimeout = "NDGPU_MAP_TIMEOUT"
)

// Var returns an environment variable stripped of spaces and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// ApplyEnv overrides fields from NDGPU_* variables. Invalid values are
// logged and ignored.
func (c *Config) ApplyEnv(log logger.Logger) {
	if s := Var(EnvBackend); s != "" {
		c.Backend = strings.ToLower(s)
	}
	if s := Var(EnvPower); s != "" {
		c.PowerPreference = strings.ToLower(s)
	}
	if s := Var(EnvF16); s != "" {
		if b, err := strconv.ParseBool(s); err != nil {
			log.Warn("invalid environment variable, using default", "key", EnvF16, "value", s, "default", c.EnableF16)
		} else {
			c.EnableF16 = b
		}
	}
	if s := Var(EnvWorkers); s != "" {
		if n, err := strconv.Atoi(s); err != nil || n < 0 {
			log.Warn("invalid environment variable, using default", "key", EnvWorkers, "value", s, "default", c.Workers)
		} else {
			c.Workers = n
		}
	}
	if s := Var(EnvLogLevel); s != "" {
		c.LogLevel = s
	}
	if s := Var(EnvLogFormat); s != "" {
		c.LogFormat = s
	}
	if s := Var(EnvMapTimeout); s != "" {
		if d, err := time.ParseDuration(s); err != nil || d < 0 {
			log.Warn("invalid environment variable, using default", "key", EnvMapTimeout, "value", s, "default", c.MapTimeout)
		} else {
			c.MapTimeout = d
		}
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendWGPU, BackendCPU:
	default:
		return fmt.Errorf("config: unknown backend %q (want %s, %s or %s)", c.Backend, BackendAuto, BackendWGPU, BackendCPU)
	}
	switch c.PowerPreference {
	case PowerHigh, PowerLow:
	default:
		return fmt.Errorf("config: unknown power preference %q (want %s or %s)", c.PowerPreference, PowerHigh, PowerLow)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0, got %d", c.Workers)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.MapTimeout < 0 {
		return fmt.Errorf("config: map timeout must be >= 0, got %s", c.MapTimeout)
	}
	return nil
}
