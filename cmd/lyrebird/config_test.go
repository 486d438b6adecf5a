package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if config.App == nil || config.App.ModelName != "default" {
		t.Errorf("expected default app config, got %+v", config.App)
	}
	if config.Brain.Order < 1 {
		t.Errorf("expected a valid default brain config, got %+v", config.Brain)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file was not written: %v", err)
	}
}

func TestLoadConfigNullAppSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"app_config": null, "brain_config": {"order": 3, "training": true, "reply_chance": 0.5, "max_length": 50}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if config.App == nil {
		t.Fatal("expected defaults for a null app_config section, got nil")
	}
	if config.App.LogLevel != "info" {
		t.Errorf("expected default log level, got %q", config.App.LogLevel)
	}
	if config.Brain.Order != 3 || config.Brain.ReplyChance != 0.5 {
		t.Errorf("brain config was not loaded from the file: %+v", config.Brain)
	}
}
