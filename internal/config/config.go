// ABOUTME: Configuration loading and parsing for relay-hub
// ABOUTME: Supports YAML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay-hub configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Fanout  FanoutConfig  `yaml:"fanout"`
	Watcher WatcherConfig `yaml:"watcher"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// StorageConfig selects and parameterizes the storage backend
type StorageConfig struct {
	// Backend is "fs" (shared workspace directory), "sqlite" (single-file
	// database), or "memory" (ephemeral, for development).
	Backend string `yaml:"backend"`
	// Root is the workspace root for the fs backend.
	Root string `yaml:"root"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
}

// FanoutConfig bounds the notification worker pool
type FanoutConfig struct {
	Workers int `yaml:"workers"`
}

// WatcherConfig controls the workspace file watcher. Only meaningful with
// the fs backend, where sibling processes may write message files directly.
type WatcherConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{HTTPAddr: ":8420"},
		Storage: StorageConfig{Backend: "fs", Root: "workspace"},
		Fanout:  FanoutConfig{Workers: 4},
		Watcher: WatcherConfig{Enabled: true},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Missing fields fall back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the fs backend")
		}
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be fs, sqlite, or memory (got %q)", c.Storage.Backend)
	}

	if c.Fanout.Workers < 0 {
		return fmt.Errorf("fanout.workers must not be negative")
	}

	return nil
}
