// Package config provides configuration loading and structs for the DocStack server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	IndexStore IndexStoreConfig `yaml:"index_store"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Auth       AuthConfig       `yaml:"auth"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the metadata store location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// IndexStoreConfig selects and configures the search index store backend.
// Type is "opensearch" (remote cluster at URL) or "local" (embedded index
// under LocalPath).
type IndexStoreConfig struct {
	Type      string `yaml:"type"`
	URL       string `yaml:"url"`
	LocalPath string `yaml:"local_path"`
	// TimeoutSeconds bounds interactive index operations (create, delete, stats).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// RuntimeConfig holds pipeline runtime connection settings. Deploys and
// document indexing are minutes-scale, so they get a separate, long timeout.
type RuntimeConfig struct {
	URL                  string `yaml:"url"`
	DeployTimeoutSeconds int    `yaml:"deploy_timeout_seconds"`
	IndexTimeoutSeconds  int    `yaml:"index_timeout_seconds"`
	QueryTimeoutSeconds  int    `yaml:"query_timeout_seconds"`
}

// AuthConfig holds session settings.
type AuthConfig struct {
	SessionExpireHours int `yaml:"session_expire_hours"`
	BcryptCost         int `yaml:"bcrypt_cost"`
}

// WatchConfig holds inbox watch settings: files dropped into Directories
// are uploaded into the store identified by StoreSlug.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	StoreSlug   string   `yaml:"store_slug"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Database.Path = expandPath(cfg.Database.Path, configDir)
	cfg.IndexStore.LocalPath = expandPath(cfg.IndexStore.LocalPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
