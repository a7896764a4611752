// Package config содержит логику чтения конфигурации трекера продаж.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации трекера продаж.
type Config struct {
	RunAddress         string  `env:"RUN_ADDRESS"`
	DatabaseURI        string  `env:"DATABASE_URI"`
	StateFile          string  `env:"STATE_FILE"`
	ShopifyShop        string  `env:"SHOPIFY_SHOP"`
	ShopifyAccessToken string  `env:"SHOPIFY_ACCESS_TOKEN"`
	ShopifyAPIAddress  string  `env:"SHOPIFY_API_ADDRESS"`
	PollInterval       int     `env:"POLL_INTERVAL"`
	SalesGoal          float64 `env:"SALES_GOAL"`
	Environment        string  `env:"APP_ENV"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envStateFile := cfg.StateFile
	envShopifyAPIAddress := cfg.ShopifyAPIAddress
	envPollInterval := cfg.PollInterval
	envSalesGoal := cfg.SalesGoal
	envEnvironment := cfg.Environment

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for the session store")
	flag.StringVar(&cfg.StateFile, "f", "", "path to a JSON file for the session store")
	flag.StringVar(&cfg.ShopifyAPIAddress, "s", "", "Shopify admin API base URL override")
	flag.IntVar(&cfg.PollInterval, "p", 30, "commerce poll interval in seconds")
	flag.Float64Var(&cfg.SalesGoal, "g", 250, "default sales goal in dollars")
	flag.StringVar(&cfg.Environment, "e", "development", "environment name reported by the health endpoint")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envStateFile != "" {
		cfg.StateFile = envStateFile
	}
	if envShopifyAPIAddress != "" {
		cfg.ShopifyAPIAddress = envShopifyAPIAddress
	}
	if envPollInterval != 0 {
		cfg.PollInterval = envPollInterval
	}
	if envSalesGoal != 0 {
		cfg.SalesGoal = envSalesGoal
	}
	if envEnvironment != "" {
		cfg.Environment = envEnvironment
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30
	}
	if cfg.SalesGoal <= 0 {
		cfg.SalesGoal = 250
	}

	return cfg, nil
}
