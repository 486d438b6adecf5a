package brain

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero order", func(c *Config) { c.Order = 0 }, true},
		{"negative order", func(c *Config) { c.Order = -3 }, true},
		{"high order", func(c *Config) { c.Order = 5 }, false},
		{"reply chance below range", func(c *Config) { c.ReplyChance = -0.1 }, true},
		{"reply chance above range", func(c *Config) { c.ReplyChance = 1.5 }, true},
		{"mute bot", func(c *Config) { c.ReplyChance = 0 }, false},
		{"zero max length", func(c *Config) { c.MaxLength = 0 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestSetConfigRejectsInvalid(t *testing.T) {
	_, b := setupTestDB(t, DefaultConfig())

	bad := DefaultConfig()
	bad.ReplyChance = 2.0
	if err := b.SetConfig(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("SetConfig() = %v, want ErrInvalidConfig", err)
	}

	// The previous configuration must remain in effect.
	if got := b.Config(); got != DefaultConfig() {
		t.Errorf("config changed after rejected update: %+v", got)
	}
}
