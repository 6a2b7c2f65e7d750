// Package config loads and validates the daemon configuration.
//
// Configuration comes from three layers, strongest first: environment
// variables (prefix TABSYNC_, plus the credential variables loaded from an
// optional .env file), the YAML config file, and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/mkadlec/tabsync/internal/retry"
)

// Credential environment variables. These are never read from the config
// file so tokens stay out of version control.
const (
	EnvStackURL = "STORAGE_STACK_URL"
	EnvAPIToken = "STORAGE_API_TOKEN"
)

// CSVDialect configures header inspection.
type CSVDialect struct {
	// Delimiter pins the delimiter instead of detecting one. Empty means
	// detect among the default candidates.
	Delimiter  string `mapstructure:"delimiter" yaml:"delimiter,omitempty"`
	QuoteChar  string `mapstructure:"quotechar" yaml:"quotechar,omitempty"`
	EscapeChar string `mapstructure:"escapechar" yaml:"escapechar,omitempty"`
	// Encoding must be utf-8; anything else is rejected at load time.
	Encoding string `mapstructure:"encoding" yaml:"encoding,omitempty"`
}

// Candidates returns the delimiter candidate set for dialect detection.
func (d CSVDialect) Candidates() []rune {
	if d.Delimiter != "" {
		return []rune(d.Delimiter)[:1]
	}
	return nil // inspector falls back to its defaults
}

// Upload configures the transfer path.
type Upload struct {
	CompressionThresholdMB float64 `mapstructure:"compression_threshold_mb" yaml:"compression_threshold_mb,omitempty"`
	MaxRetries             int     `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	RetryDelay             float64 `mapstructure:"retry_delay" yaml:"retry_delay,omitempty"`
}

// Settings is the default_settings block.
type Settings struct {
	WatchedDirectory       string  `mapstructure:"watched_directory" yaml:"watched_directory"`
	LogLevel               string  `mapstructure:"log_level" yaml:"log_level,omitempty"`
	LogFile                string  `mapstructure:"log_file" yaml:"log_file,omitempty"`
	StateDir               string  `mapstructure:"state_dir" yaml:"state_dir,omitempty"`
	CompressionThresholdMB float64 `mapstructure:"compression_threshold_mb" yaml:"compression_threshold_mb,omitempty"`
	MaxRetries             int     `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	InitialRetryDelay      float64 `mapstructure:"initial_retry_delay" yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay          float64 `mapstructure:"max_retry_delay" yaml:"max_retry_delay,omitempty"`
	RetryBackoff           float64 `mapstructure:"retry_backoff" yaml:"retry_backoff,omitempty"`
	DebounceSeconds        float64 `mapstructure:"debounce_seconds" yaml:"debounce_seconds,omitempty"`
	Concurrency            int     `mapstructure:"concurrency" yaml:"concurrency,omitempty"`
	RequestsPerSecond      float64 `mapstructure:"requests_per_second" yaml:"requests_per_second,omitempty"`
	MetricsListen          string  `mapstructure:"metrics_listen" yaml:"metrics_listen,omitempty"`
}

// Config is the immutable configuration snapshot consumed by the engine.
type Config struct {
	StackURL string `mapstructure:"-" yaml:"-"`
	APIToken string `mapstructure:"-" yaml:"-"`

	CSVDialect      CSVDialect `mapstructure:"csv_dialect" yaml:"csv_dialect,omitempty"`
	Upload          Upload     `mapstructure:"upload" yaml:"upload,omitempty"`
	DefaultSettings Settings   `mapstructure:"default_settings" yaml:"default_settings"`
	Mappings        []Mapping  `mapstructure:"mappings" yaml:"mappings"`
}

// Load reads the config file at path (or ./config.yaml when empty), applies
// environment overrides and validates the result. A .env file in the working
// directory is loaded into the process environment first, if present.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env just means credentials come from the
	// real environment.
	_ = gotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TABSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("default_settings.log_level", "info")
	v.SetDefault("default_settings.compression_threshold_mb", 50.0)
	v.SetDefault("default_settings.max_retries", 3)
	v.SetDefault("default_settings.initial_retry_delay", 1.0)
	v.SetDefault("default_settings.max_retry_delay", 30.0)
	v.SetDefault("default_settings.retry_backoff", 2.0)
	v.SetDefault("default_settings.debounce_seconds", 2.0)
	v.SetDefault("default_settings.concurrency", 4)
	v.SetDefault("default_settings.requests_per_second", 10.0)
	v.SetDefault("csv_dialect.encoding", "utf-8")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.StackURL = os.Getenv(EnvStackURL)
	cfg.APIToken = os.Getenv(EnvAPIToken)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole snapshot, normalizing defaults in place.
func (c *Config) Validate() error {
	if enc := strings.ToLower(c.CSVDialect.Encoding); enc != "" && enc != "utf-8" && enc != "utf8" {
		return fmt.Errorf("csv_dialect.encoding %q not supported, only utf-8", c.CSVDialect.Encoding)
	}
	if c.DefaultSettings.WatchedDirectory == "" {
		return fmt.Errorf("default_settings.watched_directory is required")
	}
	if !filepath.IsAbs(c.DefaultSettings.WatchedDirectory) {
		abs, err := filepath.Abs(c.DefaultSettings.WatchedDirectory)
		if err != nil {
			return fmt.Errorf("resolve watched_directory: %w", err)
		}
		c.DefaultSettings.WatchedDirectory = abs
	}
	if c.DefaultSettings.StateDir == "" {
		c.DefaultSettings.StateDir = filepath.Join(c.DefaultSettings.WatchedDirectory, ".tabsync")
	}

	// Upload block falls back to default_settings.
	if c.Upload.CompressionThresholdMB == 0 {
		c.Upload.CompressionThresholdMB = c.DefaultSettings.CompressionThresholdMB
	}
	if c.Upload.MaxRetries == 0 {
		c.Upload.MaxRetries = c.DefaultSettings.MaxRetries
	}
	if c.Upload.RetryDelay == 0 {
		c.Upload.RetryDelay = c.DefaultSettings.InitialRetryDelay
	}

	seen := map[string]string{}
	for i := range c.Mappings {
		m := &c.Mappings[i]
		if err := m.Validate(); err != nil {
			return err
		}
		if !m.IsEnabled() {
			continue
		}
		if prev, dup := seen[m.FilePath]; dup {
			return fmt.Errorf("mappings: file_path %s mapped twice (%s and %s.%s)",
				m.FilePath, prev, m.BucketID, m.TableID)
		}
		seen[m.FilePath] = fmt.Sprintf("%s.%s", m.BucketID, m.TableID)
	}
	return nil
}

// RequireCredentials errors unless both credential variables are set. Called
// by commands that talk to the storage service; purely local commands skip it.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.StackURL == "" {
		missing = append(missing, EnvStackURL)
	}
	if c.APIToken == "" {
		missing = append(missing, EnvAPIToken)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RetryPolicy converts the settings into the executor policy.
func (c *Config) RetryPolicy() retry.Policy {
	s := c.DefaultSettings
	return retry.Policy{
		MaxAttempts:  s.MaxRetries,
		InitialDelay: secondsToDuration(s.InitialRetryDelay),
		MaxDelay:     secondsToDuration(s.MaxRetryDelay),
		Backoff:      s.RetryBackoff,
	}
}

// DebounceWindow returns the quiet window for the debouncer.
func (c *Config) DebounceWindow() time.Duration {
	return secondsToDuration(c.DefaultSettings.DebounceSeconds)
}

// CompressionThreshold returns the upload compression threshold in bytes.
func (c *Config) CompressionThreshold() int64 {
	return int64(c.Upload.CompressionThresholdMB * 1024 * 1024)
}

// MappingFor returns the enabled mapping whose file_path matches path.
func (c *Config) MappingFor(path string) (*Mapping, bool) {
	for i := range c.Mappings {
		m := &c.Mappings[i]
		if m.IsEnabled() && m.FilePath == path {
			return m, true
		}
	}
	return nil, false
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
