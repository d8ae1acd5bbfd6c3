package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for batchctl.
type Config struct {
	BaseURL           string        `env:"BATCH_API_URL"`
	APIKey            string        `env:"BATCH_API_KEY"`
	NotificationEmail string        `env:"BATCH_NOTIFICATION_EMAIL"`
	PollInterval      time.Duration `env:"BATCH_POLL_INTERVAL,default=7500ms"`
	PollTimeout       time.Duration `env:"BATCH_POLL_TIMEOUT,default=15m"`
	MirrorBucket      string        `env:"BATCH_MIRROR_BUCKET"`
	MirrorPrefix      string        `env:"BATCH_MIRROR_PREFIX"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
