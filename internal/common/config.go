// Package common provides shared utilities for Tally
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Tally
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Broker      BrokerConfig  `toml:"broker"`
	Clients     ClientsConfig `toml:"clients"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds paths for the three on-disk state files/areas.
type StorageConfig struct {
	TokenStorePath string `toml:"token_store_path"` // token-store.json
	AccountsFile   string `toml:"accounts_file"`    // accounts.json
	PriceCacheDir  string `toml:"price_cache_dir"`  // .cache/yahoo-price-cache
}

// BrokerConfig holds Questrade API configuration.
type BrokerConfig struct {
	LoginURL       string `toml:"login_url"` // OAuth token host
	MaxConcurrent  int    `toml:"max_concurrent"`
	MinSpacing     string `toml:"min_spacing"` // minimum gap between calls per login
	Timeout        string `toml:"timeout"`
	RetryBudget    int    `toml:"retry_budget"`    // attempts for 429/5xx
	ActivityWindow int    `toml:"activity_window"` // days; broker caps at 31
	HistoryYears   int    `toml:"history_years"`   // how far back activity crawls reach
}

// GetMinSpacing parses and returns the minimum per-login call spacing.
func (c *BrokerConfig) GetMinSpacing() time.Duration {
	d, err := time.ParseDuration(c.MinSpacing)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// GetTimeout parses and returns the HTTP timeout duration
func (c *BrokerConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ClientsConfig holds external API client configurations
type ClientsConfig struct {
	Gemini GeminiConfig `toml:"gemini"`
}

// GeminiConfig holds Gemini API configuration for portfolio news
type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			TokenStorePath: "token-store.json",
			AccountsFile:   "accounts.json",
			PriceCacheDir:  filepath.Join(".cache", "yahoo-price-cache"),
		},
		Broker: BrokerConfig{
			LoginURL:       "https://login.questrade.com",
			MaxConcurrent:  3,
			MinSpacing:     "200ms",
			Timeout:        "30s",
			RetryBudget:    3,
			ActivityWindow: 31,
			HistoryYears:   10,
		},
		Clients: ClientsConfig{
			Gemini: GeminiConfig{
				Model: "gemini-2.0-flash",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TALLY_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("TALLY_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("TALLY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("TALLY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("ACCOUNTS_FILE"); path != "" {
		config.Storage.AccountsFile = path
	}

	if path := os.Getenv("TALLY_TOKEN_STORE"); path != "" {
		config.Storage.TokenStorePath = path
	}

	if path := os.Getenv("TALLY_PRICE_CACHE"); path != "" {
		config.Storage.PriceCacheDir = path
	}

	if url := os.Getenv("TALLY_BROKER_LOGIN_URL"); url != "" {
		config.Broker.LoginURL = url
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Clients.Gemini.APIKey = key
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
