// Package config loads and validates kbvault configuration. Configuration is
// read from ~/.kbvault/config.yaml and can be overridden by KBVAULT_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for kbvault.
type Config struct {
	// DataDir is the root directory for the item database and index.
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
	Index   IndexConfig   `mapstructure:"index" yaml:"index"`
	Search  SearchConfig  `mapstructure:"search" yaml:"search"`
	Syncer  SyncerConfig  `mapstructure:"syncer" yaml:"syncer"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// IndexConfig contains settings for the full-text search index.
type IndexConfig struct {
	// Dir is the directory holding the index database and its lock file.
	// Empty means <data_dir>/index.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// WriteTimeout bounds how long an index write waits for the writer lock
	// before failing with a retriable error.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// SearchConfig contains settings for the access-filtered search service.
type SearchConfig struct {
	// DefaultLimit is the result count used when a caller passes limit <= 0.
	DefaultLimit int `mapstructure:"default_limit" yaml:"default_limit"`

	// OverfetchFactor is how many index candidates are requested per wanted
	// result, to compensate for candidates removed by access filtering.
	OverfetchFactor int `mapstructure:"overfetch_factor" yaml:"overfetch_factor"`

	// MaxRetries is how many escalated re-queries are issued when filtering
	// leaves fewer than limit results. Each retry doubles the overfetch factor.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// SyncerConfig controls how item mutations are mirrored into the search index.
type SyncerConfig struct {
	// Mode selects the coordinator: "sync" blocks the mutation until the index
	// write completes, "async" queues the write and retries independently.
	Mode string `mapstructure:"mode" yaml:"mode"`

	// QueueSize is the async queue capacity.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`

	// MaxAttempts is how many times an async index write is attempted before
	// it is abandoned to the reconciliation job.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// RetryBackoff is the delay between async write attempts.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`

	// ReconcileInterval is how often the reconciliation job diffs the item
	// store against the index. Zero disables the job.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// File receives persistent logs when set.
	File string `mapstructure:"file" yaml:"file"`
	// Console enables human-readable output on stderr.
	Console bool `mapstructure:"console" yaml:"console"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".kbvault")

	return &Config{
		DataDir: dataDir,
		Index: IndexConfig{
			Dir:          "",
			WriteTimeout: 5 * time.Second,
		},
		Search: SearchConfig{
			DefaultLimit:    20,
			OverfetchFactor: 3,
			MaxRetries:      1,
		},
		Syncer: SyncerConfig{
			Mode:              "sync",
			QueueSize:         256,
			MaxAttempts:       3,
			RetryBackoff:      time.Second,
			ReconcileInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    filepath.Join(dataDir, "logs", "kbvault.log"),
			Console: true,
		},
	}
}

// Load reads configuration from the default location (~/.kbvault/config.yaml)
// and merges with environment variables. If no config file exists, one is
// created with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".kbvault", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. A missing file is created with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example override: KBVAULT_SEARCH_OVERFETCH_FACTOR=5
	v.SetEnvPrefix("KBVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.Index.Dir = expandPath(cfg.Index.Dir)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills in zero values left out of the config file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
	}
	if c.Index.WriteTimeout == 0 {
		c.Index.WriteTimeout = defaults.Index.WriteTimeout
	}
	if c.Search.DefaultLimit == 0 {
		c.Search.DefaultLimit = defaults.Search.DefaultLimit
	}
	if c.Search.OverfetchFactor == 0 {
		c.Search.OverfetchFactor = defaults.Search.OverfetchFactor
	}
	if c.Syncer.Mode == "" {
		c.Syncer.Mode = defaults.Syncer.Mode
	}
	if c.Syncer.QueueSize == 0 {
		c.Syncer.QueueSize = defaults.Syncer.QueueSize
	}
	if c.Syncer.MaxAttempts == 0 {
		c.Syncer.MaxAttempts = defaults.Syncer.MaxAttempts
	}
	if c.Syncer.RetryBackoff == 0 {
		c.Syncer.RetryBackoff = defaults.Syncer.RetryBackoff
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// IndexDir returns the effective index directory.
func (c *Config) IndexDir() string {
	if c.Index.Dir != "" {
		return c.Index.Dir
	}
	return filepath.Join(c.DataDir, "index")
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// EnsureDirectories creates the directories kbvault needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.IndexDir(),
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	if c.Search.OverfetchFactor < 1 {
		return fmt.Errorf("search.overfetch_factor must be at least 1, got %d", c.Search.OverfetchFactor)
	}
	if c.Search.MaxRetries < 0 {
		return fmt.Errorf("search.max_retries cannot be negative")
	}
	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("search.default_limit must be at least 1")
	}

	if c.Syncer.Mode != "sync" && c.Syncer.Mode != "async" {
		return fmt.Errorf("invalid syncer.mode %q, must be 'sync' or 'async'", c.Syncer.Mode)
	}
	if c.Syncer.QueueSize < 1 {
		return fmt.Errorf("syncer.queue_size must be at least 1")
	}
	if c.Syncer.MaxAttempts < 1 {
		return fmt.Errorf("syncer.max_attempts must be at least 1")
	}
	if c.Syncer.ReconcileInterval < 0 {
		return fmt.Errorf("syncer.reconcile_interval cannot be negative")
	}

	if c.Index.WriteTimeout <= 0 {
		return fmt.Errorf("index.write_timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
