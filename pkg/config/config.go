package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/matrix"
	"gopkg.in/yaml.v3"
)

// maxDisplayTimeout is the longest display timeout the matrix payload can carry.
const maxDisplayTimeout = 255 * 100 * time.Millisecond

// MatrixConfig configures the LED matrix pipeline
type MatrixConfig struct {
	ResponseTimeout time.Duration `yaml:"response_timeout" default:"100ms"`
	ClearTimeout    time.Duration `yaml:"clear_timeout" default:"3s"`
	AutoClear       bool          `yaml:"auto_clear" default:"false"`
	Brightness      int           `yaml:"brightness" default:"255"`
	// DisplayTimeout of zero leaves the firmware default in place.
	DisplayTimeout time.Duration `yaml:"display_timeout" default:"0s"`
	// Library is an optional YAML file with additional matrices.
	Library string `yaml:"library"`
}

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	Matrix         MatrixConfig  `yaml:"matrix"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges, reporting every problem found.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must not be negative, got %s", c.ConnectTimeout))
	}
	if c.ScanTimeout < 0 {
		errs = append(errs, fmt.Errorf("scan_timeout must not be negative, got %s", c.ScanTimeout))
	}
	if c.Matrix.ResponseTimeout < 0 {
		errs = append(errs, fmt.Errorf("matrix.response_timeout must not be negative, got %s", c.Matrix.ResponseTimeout))
	}
	if c.Matrix.ClearTimeout < 0 {
		errs = append(errs, fmt.Errorf("matrix.clear_timeout must not be negative, got %s", c.Matrix.ClearTimeout))
	}
	if c.Matrix.Brightness < 0 || c.Matrix.Brightness > 255 {
		errs = append(errs, fmt.Errorf("matrix.brightness must be within 0..255, got %d", c.Matrix.Brightness))
	}
	if c.Matrix.DisplayTimeout < 0 || c.Matrix.DisplayTimeout > maxDisplayTimeout {
		errs = append(errs, fmt.Errorf("matrix.display_timeout must be within 0..%s, got %s", maxDisplayTimeout, c.Matrix.DisplayTimeout))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, info when it does not parse.
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

// RenderOptions returns the matrix rendering options.
func (c *Config) RenderOptions() matrix.RenderOptions {
	return matrix.RenderOptions{
		Brightness:     uint8(c.Matrix.Brightness),
		DisplayTimeout: c.Matrix.DisplayTimeout,
	}
}

// NewMatrixLibrary builds the matrix library, loading Matrix.Library when set.
func (c *Config) NewMatrixLibrary(logger *logrus.Logger) (*matrix.Library, error) {
	lib := matrix.NewLibrary(c.RenderOptions(), logger)
	if c.Matrix.Library == "" {
		return lib, nil
	}
	if err := lib.LoadFile(c.Matrix.Library); err != nil {
		return nil, err
	}
	return lib, nil
}
