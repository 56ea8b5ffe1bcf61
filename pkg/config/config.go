/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/munindb/munin/pkg/bloblog"
)

// Duration wraps time.Duration so YAML configs can say "5s" or "250ms".
type Duration time.Duration

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML parses time.Duration notation.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config represents the Munin configuration
type Config struct {
	DataDir string `yaml:"data_dir"`

	// BlockSize is the blob log framing block size in bytes. 0 uses the
	// format default. Must not change once a data directory has been
	// written.
	BlockSize int `yaml:"block_size"`

	// FsyncInterval batches log fsyncs; "0s" syncs on every write.
	FsyncInterval Duration `yaml:"fsync_interval"`

	// IndexPath, when set, keeps the key index in a pebble database there
	// instead of rebuilding it in memory on every open.
	IndexPath string `yaml:"index_path"`

	// Resync is the log replay policy after a lost record boundary:
	// "abort" (default) or "scan".
	Resync string `yaml:"resync"`

	Logging Logging `yaml:"logging"`
}

// Logging contains logging configuration
type Logging struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Resync:  "abort",
		Logging: Logging{
			Level: "info",
		},
	}
}

// ResyncPolicy maps the configured resync mode onto the reader policy.
func (c *Config) ResyncPolicy() (bloblog.ResyncPolicy, error) {
	switch c.Resync {
	case "", "abort":
		return bloblog.ResyncAbort, nil
	case "scan":
		return bloblog.ResyncScan, nil
	}
	return bloblog.ResyncAbort, fmt.Errorf("unknown resync policy %q (want abort or scan)", c.Resync)
}

// LoadConfig loads configuration from the specified path
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	// Validate path to prevent directory traversal
	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if _, err := config.ResyncPolicy(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write with secure permissions (0600)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./munin.yaml"
	}

	// For Linux/macOS, use ~/.config/munin/config.yaml
	configDir := filepath.Join(homeDir, ".config", "munin")
	return filepath.Join(configDir, "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
