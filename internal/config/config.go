// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса заказов.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	NotifierAddress string `env:"NOTIFIER_ADDRESS"`
	AdminEmail      string `env:"ADMIN_EMAIL"`
	StorefrontTag   string `env:"STOREFRONT_TAG"`
	WebhookSecret   string `env:"WEBHOOK_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifierAddress := cfg.NotifierAddress
	envAdminEmail := cfg.AdminEmail
	envStorefrontTag := cfg.StorefrontTag
	envWebhookSecret := cfg.WebhookSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifierAddress, "n", "", "notification service address")
	flag.StringVar(&cfg.AdminEmail, "m", "", "operations recipient for status notifications")
	flag.StringVar(&cfg.StorefrontTag, "t", "reseller-storefront", "metadata source tag of this storefront")
	flag.StringVar(&cfg.WebhookSecret, "k", "", "payment gateway webhook signing secret")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifierAddress != "" {
		cfg.NotifierAddress = envNotifierAddress
	}
	if envAdminEmail != "" {
		cfg.AdminEmail = envAdminEmail
	}
	if envStorefrontTag != "" {
		cfg.StorefrontTag = envStorefrontTag
	}
	if envWebhookSecret != "" {
		cfg.WebhookSecret = envWebhookSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.StorefrontTag == "" {
		cfg.StorefrontTag = "reseller-storefront"
	}

	return cfg, nil
}
