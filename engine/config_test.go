package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "sync.yaml", `
sync_interval: 5m
sync_on_reconnect: false
activation_debounce: 500ms
freshness_window: 1m
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval)
	assert.False(t, cfg.SyncOnReconnect)
	assert.Equal(t, 500*time.Millisecond, cfg.ActivationDebounce)
	assert.Equal(t, time.Minute, cfg.FreshnessWindow)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeConfig(t, "sync.json",
		`{"sync_interval": "30m", "activation_debounce": "3s"}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 3*time.Second, cfg.ActivationDebounce)
}

func TestLoadConfig_OmittedFieldsKeepDefaults(t *testing.T) {
	path := writeConfig(t, "sync.yaml", `sync_interval: 1h`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.SyncInterval)
	assert.True(t, cfg.SyncOnReconnect, "omitted bool keeps the default")
	assert.Equal(t, DefaultConfig().FreshnessWindow, cfg.FreshnessWindow)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := writeConfig(t, "sync.yaml", `sync_interval: fortnight`)
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}
