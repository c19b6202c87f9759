package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testKey)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 320*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 10, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 10, cfg.PushRateLimit)
	assert.Equal(t, time.Minute, cfg.PushRateWindow)
	assert.Equal(t, 200, cfg.PreviewMaxRunes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("PUSH_RATE_LIMIT", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.PushRateLimit)
}

func TestLoadRejectsShortKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
}

func TestLoadRejectsBadReconnectDelays(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("RECONNECT_BASE_DELAY", "10s")
	t.Setenv("RECONNECT_MAX_DELAY", "1s")

	_, err := Load()
	assert.Error(t, err)
}
