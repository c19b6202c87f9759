package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// HTTP (live updates + health)
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailpush.db"`

	// IMAP
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"15s"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`

	// Reconnect backoff
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"5s"`
	ReconnectMaxDelay    time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"320s"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"10"`

	// Push delivery
	PushTimeout     time.Duration `env:"PUSH_TIMEOUT" envDefault:"10s"`
	PushRateLimit   int           `env:"PUSH_RATE_LIMIT" envDefault:"10"`
	PushRateWindow  time.Duration `env:"PUSH_RATE_WINDOW" envDefault:"60s"`
	PreviewMaxRunes int           `env:"PREVIEW_MAX_RUNES" envDefault:"200"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate encryption key length (32 bytes for AES-256)
	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	if cfg.PushRateLimit <= 0 {
		return nil, fmt.Errorf("PUSH_RATE_LIMIT must be positive, got %d", cfg.PushRateLimit)
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		return nil, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be positive, got %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.ReconnectBaseDelay <= 0 || cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		return nil, fmt.Errorf("invalid reconnect delays: base=%v max=%v", cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay)
	}

	return cfg, nil
}
