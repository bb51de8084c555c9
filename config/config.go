// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration for downloading and mirroring playlists.
type Config struct {
	// DataDir holds the library database, the job database and media files.
	DataDir string `mapstructure:"data_dir"`

	// APIKey is a YouTube Data API key, used when no OAuth token is configured.
	// Listing "my playlists" requires OAuth.
	APIKey string `mapstructure:"api_key"`
	// TokenFile is a JSON-encoded OAuth2 token for the YouTube account.
	TokenFile string `mapstructure:"token_file"`
	// ClientSecretsFile is the Google OAuth client secrets JSON used to refresh TokenFile.
	ClientSecretsFile string `mapstructure:"client_secrets_file"`

	// MaxParallelDownloads is the number of jobs the scheduler runs at once.
	MaxParallelDownloads int `mapstructure:"max_parallel_downloads"`
	// ExtractionAttempts bounds stream extraction attempts inside one job.
	ExtractionAttempts int `mapstructure:"extraction_attempts"`

	// JobMaxAttempts is how many times the scheduler runs a job that asks to be retried.
	JobMaxAttempts int `mapstructure:"job_max_attempts"`
	// InitialBackoff is the initial backoff duration for retries
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff is the maximum backoff duration for retries
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// BackoffMultiplier is the multiplier for exponential backoff (must be > 1)
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	// JobRetention is how long finished jobs are kept in the job database.
	JobRetention time.Duration `mapstructure:"job_retention"`

	// SyncInterval is the period of the playlist synchronization job.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// StatusBuffer is the per-observer buffer of download status updates.
	StatusBuffer int `mapstructure:"status_buffer"`

	// ResponseHeaderTimeout bounds the wait for response headers of stream requests.
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	// UserAgent is sent with media and thumbnail requests.
	UserAgent string `mapstructure:"user_agent"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:               defaultDataDir(),
		MaxParallelDownloads:  3,
		ExtractionAttempts:    3,
		JobMaxAttempts:        5,
		InitialBackoff:        10 * time.Second,
		MaxBackoff:            5 * time.Minute,
		BackoffMultiplier:     2.0,
		JobRetention:          24 * time.Hour,
		SyncInterval:          15 * time.Minute,
		StatusBuffer:          10,
		ResponseHeaderTimeout: 30 * time.Second,
		UserAgent:             "ytmusic/1.0",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ytmusic-data"
	}
	return filepath.Join(home, ".local", "share", "ytmusic")
}

// Load loads configuration from environment variables, config file, and applies defaults.
// Priority: env vars > config file > defaults
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("ytmusic")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "ytmusic"))
	}
	return load(v)
}

// LoadFile loads configuration from an explicit file, still honoring env overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("YTMUSIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("token_file", d.TokenFile)
	v.SetDefault("client_secrets_file", d.ClientSecretsFile)
	v.SetDefault("max_parallel_downloads", d.MaxParallelDownloads)
	v.SetDefault("extraction_attempts", d.ExtractionAttempts)
	v.SetDefault("job_max_attempts", d.JobMaxAttempts)
	v.SetDefault("initial_backoff", d.InitialBackoff)
	v.SetDefault("max_backoff", d.MaxBackoff)
	v.SetDefault("backoff_multiplier", d.BackoffMultiplier)
	v.SetDefault("job_retention", d.JobRetention)
	v.SetDefault("sync_interval", d.SyncInterval)
	v.SetDefault("status_buffer", d.StatusBuffer)
	v.SetDefault("response_header_timeout", d.ResponseHeaderTimeout)
	v.SetDefault("user_agent", d.UserAgent)
}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.MaxParallelDownloads <= 0 {
		return fmt.Errorf("max_parallel_downloads must be positive")
	}
	if c.ExtractionAttempts <= 0 {
		return fmt.Errorf("extraction_attempts must be positive")
	}
	if c.JobMaxAttempts <= 0 {
		return fmt.Errorf("job_max_attempts must be positive")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	if c.JobRetention < 0 {
		return fmt.Errorf("job_retention must be non-negative")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive")
	}
	if c.StatusBuffer <= 0 {
		return fmt.Errorf("status_buffer must be positive")
	}
	return nil
}

// LibraryPath is the SQLite database holding media items, playlists and sync bindings.
func (c *Config) LibraryPath() string {
	return filepath.Join(c.DataDir, "library.db")
}

// JobsPath is the bbolt database holding scheduler jobs.
func (c *Config) JobsPath() string {
	return filepath.Join(c.DataDir, "jobs.db")
}
