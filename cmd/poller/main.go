package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/pnthang/market-collector/cmd/poller/internal/poller"
	"github.com/pnthang/market-collector/pkg/config"
	"github.com/pnthang/market-collector/pkg/markethours"
	"github.com/pnthang/market-collector/pkg/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewPostgres(ctx, cfg.Postgres.URL(), cfg.Postgres.MaxConns)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("Postgres ping failed", zap.Error(err))
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.HTTPClient.Timeout = 10 * time.Second
	httpClient.Logger = nil

	api := poller.NewYahooClient(httpClient, cfg.Poller.QuoteAPI, cfg.Poller.RequestsPerSec)
	discoverer := poller.NewPageDiscoverer(httpClient, cfg.Poller.IndicesURL)

	// The poller can track markets in a different timezone than the board
	// scraper. ForceUSHours pins the session check to US Eastern time.
	tz := cfg.Market.Timezone
	if cfg.Poller.ForceUSHours {
		tz = "America/New_York"
	}
	gate := func(t time.Time) (bool, error) {
		return markethours.IsOpenAt(t, tz)
	}

	p := poller.New(store, api, discoverer, gate, nil, logger, poller.Options{
		Source:   cfg.Poller.Source,
		Prefix:   cfg.Poller.Prefix,
		Interval: time.Duration(cfg.Poller.Interval) * time.Second,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutdown signal received, stopping poller...")
		cancel()
	}()

	if err := p.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal("Poller failed", zap.Error(err))
	}
	logger.Info("Poller exited cleanly")
}
