// Package config handles configuration loading for the Perplexity MCP server.
// Settings come from three layers, lowest priority first: built-in defaults,
// an optional YAML settings file, and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/cfdude/mcp-perplexity-pro/internal/appdir"
)

const (
	// DefaultPort is the preferred port for the shared HTTP listener.
	DefaultPort = 8321

	// DefaultPortRangeLow and DefaultPortRangeHigh bound the port scan used
	// by discovery. The range is small on purpose: discovery probes every
	// port in it.
	DefaultPortRangeLow  = 8321
	DefaultPortRangeHigh = 8330

	// DefaultModel is the model used when a tool call does not name one.
	DefaultModel = "sonar"

	// DefaultSessionTimeout is how long an HTTP session may stay idle
	// before the sweeper removes it.
	DefaultSessionTimeout = 30 * time.Minute

	// DefaultSweepInterval is how often the idle sweeper runs.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultProbeTimeout bounds a single health probe.
	DefaultProbeTimeout = 2 * time.Second

	// DefaultBuildTimeout bounds the dev-mode rebuild step.
	DefaultBuildTimeout = 120 * time.Second

	// DefaultRequestTimeout bounds a single upstream Perplexity call.
	DefaultRequestTimeout = 5 * time.Minute
)

// HTTPConfig holds settings for the shared HTTP listener.
type HTTPConfig struct {
	// Port is the preferred port. Discovery falls back to the range scan
	// when it is taken by a non-conforming process.
	Port int `yaml:"port" env:"MCP_PERPLEXITY_PORT"`
	// PortRangeLow and PortRangeHigh bound the discovery scan (inclusive).
	PortRangeLow  int `yaml:"port_range_low" env:"MCP_PERPLEXITY_PORT_RANGE_LOW"`
	PortRangeHigh int `yaml:"port_range_high" env:"MCP_PERPLEXITY_PORT_RANGE_HIGH"`
	// SessionTimeout is the idle timeout after which a session is swept.
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DevConfig holds development-only settings.
type DevConfig struct {
	// SourceDir enables the build-freshness check before spawning the
	// listener: when the binary is older than the newest Go source under
	// this directory, the launcher rebuilds it first.
	SourceDir string `yaml:"source_dir" env:"MCP_PERPLEXITY_SRC"`
}

// Config is the resolved configuration handed to all components.
type Config struct {
	// APIKey is the Perplexity API credential. Required to serve tools.
	APIKey string `yaml:"-" env:"PERPLEXITY_API_KEY"`
	// Model is the default model for tool calls that do not name one.
	Model string `yaml:"default_model" env:"PERPLEXITY_MODEL"`
	// StorageDir overrides the conversation/report storage location.
	StorageDir string `yaml:"storage_dir" env:"PERPLEXITY_STORAGE_DIR"`
	// RequestTimeout bounds a single upstream API call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	HTTP HTTPConfig `yaml:"http"`
	Dev  DevConfig  `yaml:"dev"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Model:          DefaultModel,
		RequestTimeout: DefaultRequestTimeout,
		HTTP: HTTPConfig{
			Port:           DefaultPort,
			PortRangeLow:   DefaultPortRangeLow,
			PortRangeHigh:  DefaultPortRangeHigh,
			SessionTimeout: DefaultSessionTimeout,
			SweepInterval:  DefaultSweepInterval,
		},
	}
}

// Load resolves the configuration. If path is empty, the settings file in
// the app directory is used when present. Environment variables override
// file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		settingsPath, err := appdir.SettingsPath()
		if err == nil {
			if _, statErr := os.Stat(settingsPath); statErr == nil {
				path = settingsPath
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills zero values with defaults and validates ranges.
func (c *Config) normalize() error {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultPort
	}
	if c.HTTP.PortRangeLow == 0 {
		c.HTTP.PortRangeLow = DefaultPortRangeLow
	}
	if c.HTTP.PortRangeHigh == 0 {
		c.HTTP.PortRangeHigh = DefaultPortRangeHigh
	}
	if c.HTTP.SessionTimeout <= 0 {
		c.HTTP.SessionTimeout = DefaultSessionTimeout
	}
	if c.HTTP.SweepInterval <= 0 {
		c.HTTP.SweepInterval = DefaultSweepInterval
	}

	if err := ValidatePort(c.HTTP.Port); err != nil {
		return err
	}
	if c.HTTP.PortRangeLow > c.HTTP.PortRangeHigh {
		return fmt.Errorf("invalid port range %d-%d", c.HTTP.PortRangeLow, c.HTTP.PortRangeHigh)
	}
	if err := ValidatePort(c.HTTP.PortRangeLow); err != nil {
		return err
	}
	if err := ValidatePort(c.HTTP.PortRangeHigh); err != nil {
		return err
	}
	return nil
}

// ValidatePort checks that a port number is usable for a local listener.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", port)
	}
	return nil
}

// RequireAPIKey returns an error when no API credential is configured.
// Commands that only coordinate processes do not need the key; commands
// that serve tools do.
func (c *Config) RequireAPIKey() error {
	if c.APIKey == "" {
		return fmt.Errorf("PERPLEXITY_API_KEY is not set")
	}
	return nil
}

// ResolveStorageDir returns the directory for conversations and reports,
// creating it if needed.
func (c *Config) ResolveStorageDir() (string, error) {
	if c.StorageDir != "" {
		if err := os.MkdirAll(c.StorageDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create storage directory %s: %w", c.StorageDir, err)
		}
		return c.StorageDir, nil
	}
	if err := appdir.EnsureDir(); err != nil {
		return "", err
	}
	return appdir.Dir()
}
