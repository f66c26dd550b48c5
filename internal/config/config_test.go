package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/na7dx/packetnode/internal/config"
)

func TestDefaultEnablesBBSAndSetsChatDefaults(t *testing.T) {
	cfg := config.Default()
	assert.True(t, cfg.BBS.Enabled)
	assert.Equal(t, 10, cfg.Chat.RateLimit)
	assert.Equal(t, 100, cfg.Chat.MaxHistory)
	assert.Equal(t, "memory", cfg.Persistence.Backend)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "packetnode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logLevel: debug
channels:
  - id: radio0
    myCall: N0CALL
chat:
  rateLimit: 5
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Channels, 1)
	assert.Equal(t, "radio0", cfg.Channels[0].ID)
	assert.Equal(t, 5, cfg.Chat.RateLimit)
	// Unset-in-YAML fields keep their Default() value.
	assert.Equal(t, 100, cfg.Chat.MaxHistory)
	assert.True(t, cfg.BBS.Enabled)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSessionConfigFallsBackToBuiltInDefaults(t *testing.T) {
	var s config.SessionConfig
	assert.Equal(t, 300*time.Second, s.InactivityTimeout())
	assert.Equal(t, 5*time.Second, s.AckDeferWindow())
}

func TestMetricsConfigFallsBackToBuiltInDefault(t *testing.T) {
	var m config.MetricsConfig
	assert.Equal(t, 60*time.Second, m.MetricsCheckInterval())
}
