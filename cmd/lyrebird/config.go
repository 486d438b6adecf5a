package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/quibbitz/lyrebird/pkg/brain"
)

// AppConfig holds the settings of the lyrebird command.
type AppConfig struct {
	LogLevel     string   `json:"log_level"`
	DatabasePath string   `json:"database_path"`
	ModelName    string   `json:"model_name"`
	DatasetPaths []string `json:"dataset_paths"`
}

// Config is the top-level configuration file layout.
type Config struct {
	App   *AppConfig   `json:"app_config"`
	Brain brain.Config `json:"brain_config"`
}

// DefaultAppConfig returns the command defaults.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		LogLevel:     "info",
		DatabasePath: "./data/lyrebird.db?_journal_mode=WAL&_busy_timeout=5000",
		ModelName:    "default",
		DatasetPaths: []string{},
	}
}

// LoadConfig reads the configuration from a JSON file. A missing file is
// created with default values, written atomically so a crash mid-write never
// leaves a truncated config behind.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		App:   DefaultAppConfig(),
		Brain: brain.DefaultConfig(),
	}

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The command can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	// A present-but-null app_config section must not wipe the defaults.
	if config.App == nil {
		config.App = DefaultAppConfig()
	}

	return config, nil
}
