// Package config holds the bridge configuration: defaults, YAML loading,
// validation and logger construction.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/nusbridge/internal/devicefactory"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig matches every configuration and usage error.
var ErrInvalidConfig = errors.New("invalid configuration")

// MaxChunkSize is the largest ATT attribute value.
const MaxChunkSize = 512

// Config holds application configuration
type Config struct {
	Name           string        `yaml:"name" default:"Posture "`
	Port           string        `yaml:"port"`
	PTY            bool          `yaml:"pty"`
	Symlink        string        `yaml:"symlink"`
	BaudRate       int           `yaml:"baud_rate" default:"115200"`
	ChunkSize      int           `yaml:"chunk_size" default:"244"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"60s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	SettleDelay    time.Duration `yaml:"settle_delay" default:"2s"`
	Stack          string        `yaml:"stack" default:"go-ble"`
	LogLevel       string        `yaml:"log_level" default:"info"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %w", ErrInvalidConfig, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// Validate checks field ranges and the port/pty combination.
func (c *Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("device name must not be empty"))
	}
	switch {
	case c.Port != "" && c.PTY:
		errs = append(errs, errors.New("--port and --pty are mutually exclusive"))
	case c.Port == "" && !c.PTY:
		errs = append(errs, errors.New("either --port or --pty is required"))
	}
	if c.Symlink != "" && !c.PTY {
		errs = append(errs, errors.New("--symlink requires --pty"))
	}
	if c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud rate must be positive, got %d", c.BaudRate))
	}
	if c.ChunkSize < 1 || c.ChunkSize > MaxChunkSize {
		errs = append(errs, fmt.Errorf("chunk size must be between 1 and %d, got %d", MaxChunkSize, c.ChunkSize))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan timeout must be positive, got %s", c.ScanTimeout))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle delay must not be negative, got %s", c.SettleDelay))
	}
	if stacks := devicefactory.Stacks(); !slices.Contains(stacks, c.Stack) {
		errs = append(errs, fmt.Errorf("unknown BLE stack %q (available on this platform: %s)", c.Stack, strings.Join(stacks, ", ")))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// SetLogLevel replaces the log level after checking it parses.
func (c *Config) SetLogLevel(level string) error {
	if _, err := logrus.ParseLevel(level); err != nil {
		return fmt.Errorf("%w: invalid log level %q", ErrInvalidConfig, level)
	}
	c.LogLevel = level
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
