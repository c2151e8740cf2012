// Package config содержит логику чтения конфигурации клиента витрины.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/mmeshcher/storefront-checkout/internal/poller"
)

// Config содержит параметры конфигурации клиента и тестового бэкенда.
type Config struct {
	APIURL               string        `env:"API_URL"`
	StripePublishableKey string        `env:"STRIPE_PUBLISHABLE_KEY"`
	StripeAPIURL         string        `env:"STRIPE_API_URL"`
	PollInterval         time.Duration `env:"ORDER_POLL_INTERVAL"`
	PollAttempts         int           `env:"ORDER_POLL_ATTEMPTS"`
	DatabaseURI          string        `env:"DATABASE_URI"`
	RunAddress           string        `env:"RUN_ADDRESS"`
	SessionSecret        string        `env:"SESSION_SECRET"`
	Debug                bool          `env:"LOG_DEBUG"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		APIURL:       "http://localhost:8080",
		PollInterval: poller.DefaultInterval,
		PollAttempts: poller.DefaultMaxAttempts,
		RunAddress:   "localhost:8080",
	}
}

// RegisterFlags привязывает поля конфигурации к флагам fs.
// Текущие значения полей становятся значениями флагов по умолчанию.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.APIURL, "api-url", "u", c.APIURL, "storefront backend base URL")
	fs.StringVar(&c.StripePublishableKey, "stripe-key", c.StripePublishableKey, "Stripe publishable key")
	fs.StringVar(&c.StripeAPIURL, "stripe-api-url", c.StripeAPIURL, "Stripe API base URL override")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "interval between order status checks")
	fs.IntVar(&c.PollAttempts, "poll-attempts", c.PollAttempts, "maximum number of order status checks")
	fs.StringVarP(&c.DatabaseURI, "database-uri", "d", c.DatabaseURI, "PostgreSQL URI of the checkout attempt ledger")
	fs.StringVarP(&c.RunAddress, "address", "a", c.RunAddress, "address and port for the fake backend")
	fs.StringVar(&c.SessionSecret, "session-secret", c.SessionSecret, "fake backend session cookie secret")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable development logging")
}

// LoadEnv переопределяет значения переменными окружения и проверяет результат.
// Вызывается после разбора флагов: окружение важнее флагов.
func (c *Config) LoadEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return c.Validate()
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.PollAttempts <= 0 {
		return errors.New("poll attempts must be positive")
	}
	return nil
}
