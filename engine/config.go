package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls engine scheduling behavior.
type Config struct {
	// SyncInterval is the background sync timer period. Default 15m.
	SyncInterval time.Duration

	// SyncOnReconnect triggers an immediate sync of the active channel
	// when connectivity returns. Default true.
	SyncOnReconnect bool

	// ActivationDebounce absorbs rapid channel switching before a
	// channel-activation sync fires. Default 2s.
	ActivationDebounce time.Duration

	// FreshnessWindow suppresses activation syncs for channels that
	// synced recently. Default 5m.
	FreshnessWindow time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:       15 * time.Minute,
		SyncOnReconnect:    true,
		ActivationDebounce: 2 * time.Second,
		FreshnessWindow:    5 * time.Minute,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.ActivationDebounce <= 0 {
		c.ActivationDebounce = d.ActivationDebounce
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = d.FreshnessWindow
	}
}

// fileConfig is the on-disk shape of Config. Durations are Go duration
// strings ("15m", "2s").
type fileConfig struct {
	SyncInterval       string `yaml:"sync_interval" json:"sync_interval"`
	SyncOnReconnect    *bool  `yaml:"sync_on_reconnect" json:"sync_on_reconnect"`
	ActivationDebounce string `yaml:"activation_debounce" json:"activation_debounce"`
	FreshnessWindow    string `yaml:"freshness_window" json:"freshness_window"`
}

// LoadConfig reads a YAML or JSON config file, applying defaults for any
// omitted field. The format is chosen by file extension; unknown extensions
// are parsed as YAML, of which JSON is a subset.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if fc.SyncInterval != "" {
		if cfg.SyncInterval, err = time.ParseDuration(fc.SyncInterval); err != nil {
			return Config{}, fmt.Errorf("invalid sync_interval: %w", err)
		}
	}
	if fc.SyncOnReconnect != nil {
		cfg.SyncOnReconnect = *fc.SyncOnReconnect
	}
	if fc.ActivationDebounce != "" {
		if cfg.ActivationDebounce, err = time.ParseDuration(fc.ActivationDebounce); err != nil {
			return Config{}, fmt.Errorf("invalid activation_debounce: %w", err)
		}
	}
	if fc.FreshnessWindow != "" {
		if cfg.FreshnessWindow, err = time.ParseDuration(fc.FreshnessWindow); err != nil {
			return Config{}, fmt.Errorf("invalid freshness_window: %w", err)
		}
	}

	cfg.setDefaults()
	return cfg, nil
}
