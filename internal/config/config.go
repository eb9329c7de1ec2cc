// Package config содержит логику чтения конфигурации маркетплейса.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/nishidshajib/tradbazar/internal/pricing"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации маркетплейса.
type Config struct {
	RunAddress   string       `env:"RUN_ADDRESS"`
	DatabaseURI  string       `env:"DATABASE_URI"`
	AuthSecret   string       `env:"AUTH_SECRET"`
	PricingMode  pricing.Mode `env:"PRICING_MODE"`
	KafkaBrokers []string     `env:"KAFKA_BROKERS" envSeparator:","`
	RedisAddr    string       `env:"REDIS_ADDR"`

	AdminLogin    string `env:"ADMIN_LOGIN"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{
		AdminLogin:    envCfg.AdminLogin,
		AdminPassword: envCfg.AdminPassword,
	}
	var pricingMode, kafkaBrokers string

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (empty for in-memory storage)")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth tokens")
	flag.StringVar(&pricingMode, "p", string(pricing.ModeImmediate), "pricing mode: immediate or counter")
	flag.StringVar(&kafkaBrokers, "k", "", "comma separated Kafka brokers (empty disables events)")
	flag.StringVar(&cfg.RedisAddr, "r", "", "Redis address for checkout idempotency (empty disables)")

	flag.Parse()

	cfg.PricingMode = pricing.Mode(pricingMode)
	cfg.KafkaBrokers = splitList(kafkaBrokers)

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.AuthSecret != "" {
		cfg.AuthSecret = envCfg.AuthSecret
	}
	if envCfg.PricingMode != "" {
		cfg.PricingMode = envCfg.PricingMode
	}
	if brokers := splitList(strings.Join(envCfg.KafkaBrokers, ",")); len(brokers) > 0 {
		cfg.KafkaBrokers = brokers
	}
	if envCfg.RedisAddr != "" {
		cfg.RedisAddr = envCfg.RedisAddr
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	mode, err := pricing.ParseMode(string(cfg.PricingMode))
	if err != nil {
		return nil, fmt.Errorf("pricing mode: %w", err)
	}
	cfg.PricingMode = mode

	return cfg, nil
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
