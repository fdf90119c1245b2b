package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	MockProviderURL    string `env:"MOCK_PROVIDER_URL" envDefault:"http://mock-provider:8081"`
	WebhookCallbackURL string `env:"WEBHOOK_CALLBACK_URL" envDefault:"http://app:8080/api/v1/webhooks/provider"`
	WebhookSecret      string `env:"WEBHOOK_SECRET"`

	WebhookPollInterval time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"2s"`
	WebhookMaxAttempts  int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"5"`
	// A processing event older than this is assumed abandoned and reclaimed.
	WebhookLease time.Duration `env:"WEBHOOK_LEASE" envDefault:"5m"`

	// Empty disables the delivery cache and the Redis publisher.
	RedisURL         string        `env:"REDIS_URL"`
	DeliveryCacheTTL time.Duration `env:"DELIVERY_CACHE_TTL" envDefault:"24h"`
	RedisChannel     string        `env:"REDIS_EVENTS_CHANNEL" envDefault:"ledger:events"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"ledger.events"`

	TxMaxRetries      int    `env:"TX_MAX_RETRIES" envDefault:"5"`
	DefaultCurrency   string `env:"DEFAULT_CURRENCY" envDefault:"USD"`
	AllowFakeStrategy bool   `env:"ALLOW_FAKE_STRATEGY" envDefault:"false"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.WebhookMaxAttempts < 1 {
		return nil, fmt.Errorf("config.Load: WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.WebhookLease <= 0 {
		return nil, fmt.Errorf("config.Load: WEBHOOK_LEASE must be positive")
	}
	if cfg.TxMaxRetries < 0 {
		return nil, fmt.Errorf("config.Load: TX_MAX_RETRIES must not be negative")
	}
	return &cfg, nil
}
