// Package config provides configuration loading and management for reposync.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/reposync/internal/access"
	"github.com/stacklok/reposync/internal/conflict"
	"github.com/stacklok/reposync/internal/hostapi"
	"github.com/stacklok/reposync/internal/retry"
	"github.com/stacklok/reposync/internal/size"
	"github.com/stacklok/reposync/internal/telemetry"
	"github.com/stacklok/reposync/internal/token"
	"github.com/stacklok/reposync/internal/versions"
)

// DefaultStatusDir is where the file sink writes when status.dir is unset,
// under the user cache directory
const DefaultStatusDir = "reposync"

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure. Every section is
// optional; unset values fall back to the defaults of the component they
// configure.
type Config struct {
	// Format is the configuration format version, versions.ConfigFormat when empty
	Format string `yaml:"format,omitempty"`

	Host      HostConfig        `yaml:"host,omitempty"`
	Retry     RetryConfig       `yaml:"retry,omitempty"`
	Size      SizeConfig        `yaml:"size,omitempty"`
	Conflict  ConflictConfig    `yaml:"conflict,omitempty"`
	Token     TokenConfig       `yaml:"token,omitempty"`
	Status    StatusConfig      `yaml:"status,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// HostConfig defines how the hosting service API is reached
type HostConfig struct {
	// APIURL is the API root, hostapi.DefaultBaseURL when empty
	APIURL string `yaml:"apiURL,omitempty"`

	// Timeout bounds each API request (e.g. "10s")
	Timeout string `yaml:"timeout,omitempty"`

	// AccessTimeout bounds the repository access check
	AccessTimeout string `yaml:"accessTimeout,omitempty"`
}

// RetryConfig defines the retry policy for transfers
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// A nil value keeps retry.DefaultMaxRetries; 0 disables retries.
	MaxRetries *int `yaml:"maxRetries,omitempty"`

	InitialBackoff string `yaml:"initialBackoff,omitempty"`
	MaxBackoff     string `yaml:"maxBackoff,omitempty"`
	AttemptTimeout string `yaml:"attemptTimeout,omitempty"`
}

// SizeConfig defines the file size policy applied before a push
type SizeConfig struct {
	// IndividualLimit is the largest file allowed, e.g. "100MiB"
	IndividualLimit string `yaml:"individualLimit,omitempty"`

	// AggregateLimit is the most a single push may carry, e.g. "1GiB"
	AggregateLimit string `yaml:"aggregateLimit,omitempty"`

	// Strategy is exclude, lfs or split
	Strategy string `yaml:"strategy,omitempty"`

	// Ignore lists doublestar globs of paths never size checked
	Ignore []string `yaml:"ignore,omitempty"`
}

// ConflictConfig defines how merge conflicts are resolved
type ConflictConfig struct {
	// Strategy is ours, theirs or manual
	Strategy string `yaml:"strategy,omitempty"`
}

// TokenConfig defines credential handling
type TokenConfig struct {
	// RefreshTimeout bounds the refresh callback
	RefreshTimeout string `yaml:"refreshTimeout,omitempty"`
}

// StatusConfig defines where progress is recorded
type StatusConfig struct {
	// Dir is the file sink root. Empty uses DefaultStatusDir under the user cache directory.
	Dir string `yaml:"dir,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates YAML configuration. Empty input is a valid,
// all-defaults configuration.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if config.Format != "" && versions.IsNewerFormat(config.Format, versions.ConfigFormat) {
		slog.Warn("Configuration was written by a newer reposync, unknown settings are ignored",
			"format", config.Format,
			"supported", versions.ConfigFormat)
	}

	return &config, nil
}

// Default returns the all-defaults configuration
func Default() *Config {
	return &Config{}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := versions.CheckConfigFormat(c.Format); err != nil {
		return err
	}

	if c.Host.APIURL != "" {
		u, err := url.Parse(c.Host.APIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("host.apiURL must be an absolute URL, got %q", c.Host.APIURL)
		}
	}

	var errs []error
	for _, d := range []struct{ name, value string }{
		{"host.timeout", c.Host.Timeout},
		{"host.accessTimeout", c.Host.AccessTimeout},
		{"retry.initialBackoff", c.Retry.InitialBackoff},
		{"retry.maxBackoff", c.Retry.MaxBackoff},
		{"retry.attemptTimeout", c.Retry.AttemptTimeout},
		{"token.refreshTimeout", c.Token.RefreshTimeout},
	} {
		if _, err := parseDuration(d.name, d.value); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.maxRetries must not be negative, got %d", *c.Retry.MaxRetries)
	}

	if _, err := c.SizeLimits(); err != nil {
		return err
	}
	for _, pattern := range c.Size.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("size.ignore: invalid glob %q", pattern)
		}
	}
	if c.Size.Strategy != "" {
		if _, err := size.ParseStrategy(c.Size.Strategy); err != nil {
			return fmt.Errorf("size.strategy: %w", err)
		}
	}
	if c.Conflict.Strategy != "" {
		if _, err := conflict.ParseStrategy(c.Conflict.Strategy); err != nil {
			return fmt.Errorf("conflict.strategy: %w", err)
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// parseDuration parses an optional duration. Empty means zero.
func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration (e.g., '30s', '1m'): %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", name, value)
	}
	return d, nil
}

// mustDuration is used by accessors on a validated config
func mustDuration(value string) time.Duration {
	d, _ := parseDuration("", value)
	return d
}

// HostTimeout returns the API request timeout, hostapi.DefaultTimeout when unset
func (c *Config) HostTimeout() time.Duration {
	if d := mustDuration(c.Host.Timeout); d > 0 {
		return d
	}
	return hostapi.DefaultTimeout
}

// AccessTimeout returns the access check timeout, access.DefaultTimeout when unset
func (c *Config) AccessTimeout() time.Duration {
	if d := mustDuration(c.Host.AccessTimeout); d > 0 {
		return d
	}
	return access.DefaultTimeout
}

// RetryPolicy returns the retry coordinator configuration
func (c *Config) RetryPolicy() retry.Config {
	cfg := retry.DefaultConfig()
	if c.Retry.MaxRetries != nil {
		cfg.MaxRetries = *c.Retry.MaxRetries
	}
	if d := mustDuration(c.Retry.InitialBackoff); d > 0 {
		cfg.InitialBackoff = d
	}
	if d := mustDuration(c.Retry.MaxBackoff); d > 0 {
		cfg.MaxBackoff = d
	}
	if d := mustDuration(c.Retry.AttemptTimeout); d > 0 {
		cfg.AttemptTimeout = d
	}
	return cfg
}

// SizeLimits parses the configured limits. Unset limits keep the defaults.
func (c *Config) SizeLimits() (size.Limits, error) {
	limits := size.DefaultLimits()
	if c.Size.IndividualLimit != "" {
		n, err := parseBytes("size.individualLimit", c.Size.IndividualLimit)
		if err != nil {
			return size.Limits{}, err
		}
		limits.Individual = n
	}
	if c.Size.AggregateLimit != "" {
		n, err := parseBytes("size.aggregateLimit", c.Size.AggregateLimit)
		if err != nil {
			return size.Limits{}, err
		}
		limits.Aggregate = n
	}
	if limits.Individual > limits.Aggregate {
		slog.Warn("Individual file size limit is larger than the aggregate limit",
			"individual", humanize.IBytes(uint64(limits.Individual)),
			"aggregate", humanize.IBytes(uint64(limits.Aggregate)))
	}
	return limits, nil
}

func parseBytes(name, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a size such as '100MiB': %w", name, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("%s out of range: %s", name, value)
	}
	return int64(n), nil
}

// SizeStrategy returns the configured strategy, exclude when unset
func (c *Config) SizeStrategy() size.Strategy {
	if s, err := size.ParseStrategy(c.Size.Strategy); err == nil {
		return s
	}
	return size.StrategyExclude
}

// ConflictStrategy returns the configured strategy, ours when unset
func (c *Config) ConflictStrategy() conflict.Strategy {
	if s, err := conflict.ParseStrategy(c.Conflict.Strategy); err == nil {
		return s
	}
	return conflict.StrategyOurs
}

// RefreshTimeout returns the refresh callback timeout, token.DefaultRefreshTimeout when unset
func (c *Config) RefreshTimeout() time.Duration {
	if d := mustDuration(c.Token.RefreshTimeout); d > 0 {
		return d
	}
	return token.DefaultRefreshTimeout
}

// StatusDir returns the file sink root
func (c *Config) StatusDir() (string, error) {
	if c.Status.Dir != "" {
		return c.Status.Dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine status directory: %w", err)
	}
	return filepath.Join(base, DefaultStatusDir), nil
}
