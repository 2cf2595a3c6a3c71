/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ssargent/basekv/pkg/logging"
	"github.com/ssargent/basekv/pkg/metrics"
	"github.com/ssargent/basekv/pkg/snapshot"
	"github.com/ssargent/basekv/pkg/store"
)

// Config represents the BaseKV configuration
type Config struct {
	DataFile      string   `yaml:"data_file"`
	BufferSize    int      `yaml:"buffer_size"`
	SyncOnWrite   bool     `yaml:"sync_on_write"`
	ExclusiveLock bool     `yaml:"exclusive_lock"`
	Logging       Logging  `yaml:"logging"`
	Snapshot      Snapshot `yaml:"snapshot"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Snapshot controls the persisted index snapshot
type Snapshot struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		DataFile:   "./data/basekv.log",
		BufferSize: store.DefaultBufferSize,
		Logging: Logging{
			Level:  "info",
			Format: logging.FormatText,
		},
		Snapshot: Snapshot{
			Key: snapshot.DefaultKey,
		},
	}
}

// LoadConfig loads configuration from the specified path. Fields missing
// from the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

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

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks field values that would otherwise fail later at open time
func (c *Config) Validate() error {
	if c.DataFile == "" {
		return errors.New("data_file is required")
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size must not be negative, got %d", c.BufferSize)
	}
	if _, err := logging.NewWithOutput(io.Discard, c.Logging.Level, c.Logging.Format); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if c.Snapshot.Enabled && c.Snapshot.Key == "" {
		return errors.New("snapshot.key is required when snapshots are enabled")
	}
	return nil
}

// StoreConfig translates the file configuration into a store configuration
func (c *Config) StoreConfig(logger *logrus.Logger, m *metrics.Metrics) store.KVStoreConfig {
	return store.KVStoreConfig{
		FilePath:      c.DataFile,
		BufferSize:    c.BufferSize,
		SyncOnWrite:   c.SyncOnWrite,
		ExclusiveLock: c.ExclusiveLock,
		Logger:        logger,
		Metrics:       m,
	}
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./basekv.yaml"
	}

	// For Linux/macOS, use ~/.config/basekv/config.yaml
	configDir := filepath.Join(homeDir, ".config", "basekv")
	return filepath.Join(configDir, "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
