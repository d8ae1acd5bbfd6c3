package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 15*time.Minute, cfg.PollTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BATCH_API_URL", "https://api.example.com")
	t.Setenv("BATCH_API_KEY", "key-123")
	t.Setenv("BATCH_NOTIFICATION_EMAIL", "ops@example.com")
	t.Setenv("BATCH_POLL_INTERVAL", "2s")
	t.Setenv("BATCH_POLL_TIMEOUT", "1m")
	t.Setenv("BATCH_MIRROR_BUCKET", "results")
	t.Setenv("BATCH_MIRROR_PREFIX", "mirror")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, "key-123", cfg.APIKey)
	assert.Equal(t, "ops@example.com", cfg.NotificationEmail)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.PollTimeout)
	assert.Equal(t, "results", cfg.MirrorBucket)
	assert.Equal(t, "mirror", cfg.MirrorPrefix)
}
