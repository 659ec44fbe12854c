// Package config provides configuration loading and management for the document sync service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-docsync/internal/telemetry"
)

const (
	// StoreTypeMemory keeps documents in process memory
	StoreTypeMemory = "memory"

	// StoreTypePostgres keeps documents in a PostgreSQL table
	StoreTypePostgres = "postgres"

	// StoreTypeREST talks to a remote document API over HTTP
	StoreTypeREST = "rest"
)

// Defaults applied when a setting is omitted
const (
	DefaultDebounceInterval  = 100 * time.Millisecond
	DefaultCooldownInterval  = 5 * time.Second
	DefaultCacheTTL          = 60 * time.Second
	DefaultProbeInterval     = 5 * time.Second
	DefaultMaxAttempts       = 3
	DefaultInitialDelay      = time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxDelay          = 30 * time.Second
	DefaultRESTTimeout       = 10 * time.Second

	// EnvPrefix is the prefix of every environment variable read by the binary
	EnvPrefix = "THV_DOCSYNC"

	// PasswordEnvVar holds the database password when no passwordFile is set
	PasswordEnvVar = "THV_DOCSYNC_DATABASE_PASSWORD"
)

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

// Config represents the root configuration structure
type Config struct {
	Sync      *SyncConfig       `yaml:"sync,omitempty"`
	Retry     *RetryConfig      `yaml:"retry,omitempty"`
	Store     StoreConfig       `yaml:"store"`
	Database  *DatabaseConfig   `yaml:"database,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// SyncConfig tunes the write-back pipeline. Durations use Go syntax ("100ms", "5s").
type SyncConfig struct {
	// DebounceInterval is the delay between the first queued change and the flush
	DebounceInterval string `yaml:"debounceInterval,omitempty"`

	// CooldownInterval is the delay before retrying after the store became unreachable
	CooldownInterval string `yaml:"cooldownInterval,omitempty"`

	// CacheTTL is how long a resolved document is trusted
	CacheTTL string `yaml:"cacheTTL,omitempty"`

	// ProbeInterval is the minimum time between two connection probes
	ProbeInterval string `yaml:"probeInterval,omitempty"`
}

// RetryConfig controls the exponential backoff around remote calls
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// InitialDelay is the wait before the second attempt
	InitialDelay string `yaml:"initialDelay,omitempty"`

	// Multiplier scales the delay after every failed attempt
	Multiplier float64 `yaml:"multiplier,omitempty"`

	// MaxDelay caps any single delay
	MaxDelay string `yaml:"maxDelay,omitempty"`
}

// StoreConfig selects the document store backend
type StoreConfig struct {
	// Type is one of memory, postgres or rest. Defaults to memory.
	Type string `yaml:"type,omitempty"`

	// REST is required when Type is rest
	REST *RESTConfig `yaml:"rest,omitempty"`
}

// RESTConfig defines the remote document API
type RESTConfig struct {
	// Endpoint is the base URL of the document API
	Endpoint string `yaml:"endpoint"`

	// APIKeyFile is the path to a file containing a bearer token
	APIKeyFile string `yaml:"apiKeyFile,omitempty"`

	// Timeout bounds every HTTP request (e.g., "10s")
	Timeout string `yaml:"timeout,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the minimum number of connections kept in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
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

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration that uses the in-memory store and every default.
func Default() *Config {
	return &Config{Store: StoreConfig{Type: StoreTypeMemory}}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	if c.Sync != nil {
		errs = append(errs,
			validateDuration("sync.debounceInterval", c.Sync.DebounceInterval),
			validateDuration("sync.cooldownInterval", c.Sync.CooldownInterval),
			validateDuration("sync.cacheTTL", c.Sync.CacheTTL),
			validateDuration("sync.probeInterval", c.Sync.ProbeInterval),
		)
	}
	if c.Retry != nil {
		errs = append(errs, c.Retry.validate())
	}
	errs = append(errs, c.validateStore())
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateStore() error {
	switch c.Store.GetType() {
	case StoreTypeMemory:
		return nil
	case StoreTypePostgres:
		if c.Database == nil {
			return fmt.Errorf("store.type %s requires a database section", StoreTypePostgres)
		}
		return c.Database.validate()
	case StoreTypeREST:
		if c.Store.REST == nil || c.Store.REST.Endpoint == "" {
			return fmt.Errorf("store.rest.endpoint is required when store.type is %s", StoreTypeREST)
		}
		u, err := url.Parse(c.Store.REST.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("store.rest.endpoint must be an absolute URL, got %q", c.Store.REST.Endpoint)
		}
		return validateDuration("store.rest.timeout", c.Store.REST.Timeout)
	default:
		return fmt.Errorf("store.type must be one of %s, %s or %s, got %q",
			StoreTypeMemory, StoreTypePostgres, StoreTypeREST, c.Store.Type)
	}
}

func (r *RetryConfig) validate() error {
	var errs []error
	if r.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.maxAttempts must not be negative, got %d", r.MaxAttempts))
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be at least 1, got %g", r.Multiplier))
	}
	errs = append(errs,
		validateDuration("retry.initialDelay", r.InitialDelay),
		validateDuration("retry.maxDelay", r.MaxDelay),
	)
	return errors.Join(errs...)
}

func (d *DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if d.Port <= 0 {
		return fmt.Errorf("database.port is required")
	}
	if d.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if d.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	return validateDuration("database.connMaxLifetime", d.ConnMaxLifetime)
}

// validateDuration accepts an empty value or a positive Go duration
func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '100ms', '5s'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

// durationOr parses value, falling back to def when it is empty or invalid.
// Values are checked by validate before any getter runs.
func durationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetDebounceInterval returns the debounce interval, using the default if not specified
func (c *Config) GetDebounceInterval() time.Duration {
	if c.Sync == nil {
		return DefaultDebounceInterval
	}
	return durationOr(c.Sync.DebounceInterval, DefaultDebounceInterval)
}

// GetCooldownInterval returns the reconnect cooldown, using the default if not specified
func (c *Config) GetCooldownInterval() time.Duration {
	if c.Sync == nil {
		return DefaultCooldownInterval
	}
	return durationOr(c.Sync.CooldownInterval, DefaultCooldownInterval)
}

// GetCacheTTL returns the document cache TTL, using the default if not specified
func (c *Config) GetCacheTTL() time.Duration {
	if c.Sync == nil {
		return DefaultCacheTTL
	}
	return durationOr(c.Sync.CacheTTL, DefaultCacheTTL)
}

// GetProbeInterval returns the connection probe interval, using the default if not specified
func (c *Config) GetProbeInterval() time.Duration {
	if c.Sync == nil {
		return DefaultProbeInterval
	}
	return durationOr(c.Sync.ProbeInterval, DefaultProbeInterval)
}

// GetMaxAttempts returns the retry attempt limit, using the default if not specified
func (c *Config) GetMaxAttempts() int {
	if c.Retry == nil || c.Retry.MaxAttempts == 0 {
		return DefaultMaxAttempts
	}
	return c.Retry.MaxAttempts
}

// GetInitialDelay returns the first backoff delay, using the default if not specified
func (c *Config) GetInitialDelay() time.Duration {
	if c.Retry == nil {
		return DefaultInitialDelay
	}
	return durationOr(c.Retry.InitialDelay, DefaultInitialDelay)
}

// GetMultiplier returns the backoff multiplier, using the default if not specified
func (c *Config) GetMultiplier() float64 {
	if c.Retry == nil || c.Retry.Multiplier == 0 {
		return DefaultBackoffMultiplier
	}
	return c.Retry.Multiplier
}

// GetMaxDelay returns the backoff cap, using the default if not specified
func (c *Config) GetMaxDelay() time.Duration {
	if c.Retry == nil {
		return DefaultMaxDelay
	}
	return durationOr(c.Retry.MaxDelay, DefaultMaxDelay)
}

// GetType returns the store type, defaulting to memory
func (s *StoreConfig) GetType() string {
	if s.Type == "" {
		return StoreTypeMemory
	}
	return s.Type
}

// GetTimeout returns the HTTP timeout, using the default if not specified
func (r *RESTConfig) GetTimeout() time.Duration {
	return durationOr(r.Timeout, DefaultRESTTimeout)
}

// GetAPIKey reads the bearer token from APIKeyFile. It returns an empty
// string when no file is configured.
func (r *RESTConfig) GetAPIKey() (string, error) {
	if r.APIKeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Clean(r.APIKeyFile))
	if err != nil {
		return "", fmt.Errorf("failed to read API key from file %s: %w", r.APIKeyFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from THV_DOCSYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", PasswordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// GetConnMaxLifetime returns the parsed connection lifetime, or zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return durationOr(d.ConnMaxLifetime, 0)
}
