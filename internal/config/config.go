package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Secrets holds the env-sourced deployment secrets and outbox tuning. The
// token salt is loaded exactly once at startup and never mutated; every
// bearer token hash in the store depends on it.
type Secrets struct {
	TokenSalt      string        `env:"TOKEN_SALT,required"`
	WebhookTimeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	OutboxInterval time.Duration `env:"OUTBOX_INTERVAL" envDefault:"2s"`
	OutboxBatch    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
}

type Config struct {
	Secrets Secrets
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
