package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"extended-cli/internal/cli"
	"extended-cli/internal/exchange/exchangeobs"
	"extended-cli/internal/exchange/extended"
	"extended-cli/internal/exchange/signer"
	"extended-cli/internal/interfaces"
	"extended-cli/internal/logger"
	"extended-cli/internal/market"
	"extended-cli/internal/store"
	"extended-cli/internal/strategy"
	"extended-cli/internal/stream"
	"extended-cli/internal/summary"
	"extended-cli/internal/trace"
	"extended-cli/internal/tradelog"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type app struct {
	cli *cli.TradingCLI
}

// bootstrap wires the exchange client, market catalog, streams, strategy
// and prompt from the config file and environment.
func bootstrap(ctx context.Context) (*app, error) {
	if err := initializeSystem(); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	journal := tradelog.New(cfg.Tradelog.Dir)
	compressOldLogs(ctx, journal, cfg.Tradelog.RetentionDays)

	ex := initializeExchange(ctx, cfg)
	catalog := market.NewCatalog(ex, cfg.MarketCacheTTL())
	streams := initializeStreams(cfg)
	strat := strategy.NewBestOrder(strategy.Deps{
		Exchange: ex,
		Catalog:  catalog,
		Quotes:   streams,
		Journal:  journal,
		PostOnly: cfg.PostOnly(),
		Mode:     cfg.Mode,
	})

	c := cli.New(cli.Deps{
		Exchange: ex,
		Catalog:  catalog,
		Streams:  streams,
		Strategy: strat,
		Summary:  summary.NewSummarizer(journal),
		Mode:     cfg.Mode,
	}, os.Stdin, os.Stdout)

	return &app{cli: c}, nil
}

// initializeSystem loads the env file and starts logging and tracing
func initializeSystem() error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig(configPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", configPath)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs gzips journal files past the retention window
func compressOldLogs(ctx context.Context, journal *tradelog.Journal, retentionDays int) {
	n, err := journal.CompressOlder(retentionDays)
	if err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
		return
	}
	if n > 0 {
		logger.Info(ctx, "Compressed old journal files", "count", n)
	}
}

// initializeExchange builds the Extended client with observability
func initializeExchange(ctx context.Context, cfg *store.Config) interfaces.Exchange {
	var sg interfaces.Signer
	if cfg.SignerURL != "" {
		sg = signer.NewRemote(cfg.SignerURL, cfg.HTTPTimeout())
	}

	if cfg.IsDryRun() {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	} else if cfg.Credentials.PrivateKey != "" {
		logger.Warn(ctx, "EXTENDED_PRIVATE_KEY is ignored; orders are signed by the signer service", "signer_url", cfg.SignerURL)
	}

	ex := extended.NewClient(extended.Params{
		DryRun:      cfg.IsDryRun(),
		Network:     cfg.Network,
		BaseURL:     cfg.APIBaseURL,
		APIKey:      cfg.Credentials.APIKey,
		PublicKey:   cfg.Credentials.PublicKey,
		Vault:       cfg.Credentials.Vault,
		FeeRate:     decimal.NewFromFloat(cfg.FeeRate()),
		OrderExpiry: cfg.OrderExpiry(),
		Timeout:     cfg.HTTPTimeout(),
		MaxAttempts: cfg.HTTP.MaxAttempts,
		Signer:      sg,
	})

	return exchangeobs.Wrap(ex)
}

func initializeStreams(cfg *store.Config) *stream.Provider {
	return stream.NewProvider(stream.Config{
		URL:               cfg.StreamURL,
		Depth:             cfg.Stream.Depth,
		ReconnectDelay:    cfg.ReconnectDelay(),
		MaxReconnectDelay: cfg.MaxReconnectDelay(),
		PingInterval:      cfg.PingInterval(),
		PongTimeout:       cfg.PingTimeout(),
	})
}

// shutdown flushes logs and the trace exporter
func (a *app) shutdown(ctx context.Context) {
	if err := logger.Shutdown(context.WithoutCancel(ctx)); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
}
