// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the server configuration.
//
// Values are layered in this order, later layers winning:
// built-in defaults, the YAML config file, PREFORKD_* environment
// variables, and finally the override string assembled from the command
// line ("key value" lines, see ParseOverrides).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/preforkd/internal/log"
	perrors "github.com/tombee/preforkd/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Defaults used when neither the file, the environment nor overrides set a value.
const (
	DefaultPort            = 10828
	DefaultWorkers         = 2
	DefaultGracefulTimeout = 30 * time.Second
	DefaultIdleTimeout     = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultProtocol        = "http"
	DefaultApp             = "hello"
)

// Config is the process-wide server configuration. The master owns it and
// replaces it on reload; every worker receives a copy at spawn time.
type Config struct {
	// Bind is the address the listen socket binds to. Empty means all interfaces.
	Bind string `yaml:"bind"`

	// Port is the TCP port. 0 lets the kernel pick one.
	Port int `yaml:"port"`

	// Workers is the desired size of the worker pool.
	Workers int `yaml:"workers"`

	// GracefulTimeout bounds how long a graceful halt waits for workers to exit
	// before they are killed.
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// IdleTimeout bounds a worker's wait for a pending connection before it
	// re-checks its parent and liveness.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ReadTimeout bounds the time a worker waits for a complete request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds the time a worker spends flushing a response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Protocol names the protocol capability (http, line).
	Protocol string `yaml:"protocol"`

	// App names the application capability (hello, echo).
	App string `yaml:"app"`

	// StaticDir, when set, is served under /static/ by the hello app.
	StaticDir string `yaml:"static_dir,omitempty"`

	// PIDFile is the path to the master PID file. Empty means no PID file.
	PIDFile string `yaml:"pid_file,omitempty"`

	// MetricsAddr, when set, serves master metrics on this address.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// WatchConfig reloads the server when the config file changes on disk.
	WatchConfig bool `yaml:"watch_config"`

	// HaltWait makes a graceful halt wait for workers until GracefulTimeout
	// instead of killing them straight away.
	HaltWait bool `yaml:"halt_wait"`

	// Log configures master and worker logging.
	Log LogConfig `yaml:"log"`

	// Path is the file this configuration was loaded from. Not serialized.
	Path string `yaml:"-"`

	// Overrides is the command line override string applied on load. Kept so
	// reload can apply it again. Not serialized.
	Overrides string `yaml:"-"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the log level (trace, debug, info, warn, error).
	Level string `yaml:"level,omitempty"`

	// Format is the log format (text, json). Empty picks by terminal.
	Format string `yaml:"format,omitempty"`

	// AddSource adds source file and line to log records.
	AddSource bool `yaml:"add_source"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bind:            "",
		Port:            DefaultPort,
		Workers:         DefaultWorkers,
		GracefulTimeout: DefaultGracefulTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		Protocol:        DefaultProtocol,
		App:             DefaultApp,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a configuration from the file at path (optional) and the
// override string (optional). An empty path and empty overrides yield the
// defaults, adjusted by the environment.
func Load(path, overrides string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &perrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", path),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()

	if overrides != "" {
		if err := cfg.ApplyOverrides(overrides); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	cfg.Path = path
	cfg.Overrides = overrides

	if err := cfg.Validate(); err != nil {
		return nil, &perrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// Reload loads the configuration again from the same file and overrides
// that produced c.
func (c *Config) Reload() (*Config, error) {
	return Load(c.Path, c.Overrides)
}

// Clone returns a copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// ListenAddr returns the bind address and port joined for net.Listen.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// SameListener reports whether c and other bind the same address and port.
func (c *Config) SameListener(other *Config) bool {
	return c.Bind == other.Bind && c.Port == other.Port
}

// LoggerConfig converts the log section into a log.Config writing to stderr.
func (c *Config) LoggerConfig() *log.Config {
	lc := log.DefaultConfig()
	if c.Log.Level != "" {
		lc.Level = c.Log.Level
	}
	if c.Log.Format != "" {
		lc.Format = log.Format(c.Log.Format)
	}
	lc.AddSource = lc.AddSource || c.Log.AddSource
	return lc
}

// applyDefaults fills in zero values that a partial file or override may
// have cleared.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.GracefulTimeout == 0 {
		c.GracefulTimeout = defaults.GracefulTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.Protocol == "" {
		c.Protocol = defaults.Protocol
	}
	if c.App == "" {
		c.App = defaults.App
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
// Malformed numeric or duration values are ignored.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("PREFORKD_BIND"); val != "" {
		c.Bind = val
	}
	if val := os.Getenv("PREFORKD_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Port = port
		}
	}
	if val := os.Getenv("PREFORKD_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Workers = n
		}
	}
	if val := os.Getenv("PREFORKD_GRACEFUL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.GracefulTimeout = d
		}
	}
	if val := os.Getenv("PREFORKD_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.IdleTimeout = d
		}
	}
	if val := os.Getenv("PREFORKD_PID_FILE"); val != "" {
		c.PIDFile = val
	}
	if val := os.Getenv("PREFORKD_METRICS_ADDR"); val != "" {
		c.MetricsAddr = val
	}
	if val := os.Getenv("PREFORKD_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port must be between 0 and 65535, got %d", c.Port))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Sprintf("workers must be at least 1, got %d", c.Workers))
	}
	if c.GracefulTimeout < 0 {
		errs = append(errs, fmt.Sprintf("graceful_timeout must be non-negative, got %v", c.GracefulTimeout))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("idle_timeout must be positive, got %v", c.IdleTimeout))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("read_timeout must be positive, got %v", c.ReadTimeout))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("write_timeout must be positive, got %v", c.WriteTimeout))
	}
	if !log.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "" && c.Log.Format != string(log.FormatJSON) && c.Log.Format != string(log.FormatText) {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}
