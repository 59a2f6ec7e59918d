// Package app wires configuration, storage, broker clients, and services
// into one shared core used by cmd/tally-server and cmd/tally-pnl.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/tally/internal/accounts"
	"github.com/bobmcallan/tally/internal/clients/gemini"
	"github.com/bobmcallan/tally/internal/clients/questrade"
	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/crawler"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/pricecache"
	"github.com/bobmcallan/tally/internal/services/aggregator"
	"github.com/bobmcallan/tally/internal/services/invmodel"
	"github.com/bobmcallan/tally/internal/tokenstore"
)

// App holds all initialized services and clients.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Tokens      interfaces.TokenStore
	Accounts    interfaces.ConfigStore
	Prices      *pricecache.Cache
	Factory     interfaces.BrokerClientFactory
	Registry    *invmodel.Registry
	Aggregator  *aggregator.Service
	News        interfaces.NewsClient
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage, broker clients, and the aggregator.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	// Get binary directory for self-contained operation
	binDir := getBinaryDir()

	// Load configuration - check provided path, TALLY_CONFIG, then binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("TALLY_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "tally.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/tally.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative storage paths to the binary directory
	for _, p := range []*string{
		&config.Storage.TokenStorePath,
		&config.Storage.AccountsFile,
		&config.Storage.PriceCacheDir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(binDir, *p)
		}
	}

	logger := common.NewLogger(config.Logging.Level)

	tokens := tokenstore.NewStore(config.Storage.TokenStorePath, config.Broker.LoginURL,
		tokenstore.WithLogger(logger))

	accountStore := accounts.NewStore(config.Storage.AccountsFile, logger)

	prices, err := pricecache.New(config.Storage.PriceCacheDir, pricecache.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open price cache: %w", err)
	}

	factory := questrade.NewFactory(tokens, logger,
		config.Broker.MaxConcurrent, config.Broker.GetMinSpacing(), config.Broker.RetryBudget)

	cr := crawler.New(logger, config.Broker.ActivityWindow)
	registry := invmodel.NewRegistry(logger)

	agg := aggregator.New(factory, tokens, accountStore, prices, cr, registry,
		aggregator.WithLogger(logger),
		aggregator.WithHistoryYears(config.Broker.HistoryYears))

	var news interfaces.NewsClient
	if key := config.Clients.Gemini.APIKey; key != "" {
		client, err := gemini.NewClient(context.Background(), key,
			gemini.WithLogger(logger),
			gemini.WithModel(config.Clients.Gemini.Model))
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize Gemini client")
		} else {
			news = client
		}
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Tokens:      tokens,
		Accounts:    accountStore,
		Prices:      prices,
		Factory:     factory,
		Registry:    registry,
		Aggregator:  agg,
		News:        news,
		StartupTime: startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}
