package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/pnthang/market-collector/cmd/groupfetch/internal/groupfetch"
	"github.com/pnthang/market-collector/pkg/browser"
	"github.com/pnthang/market-collector/pkg/config"
	"github.com/pnthang/market-collector/pkg/storage"
)

func main() {
	group := flag.String("group", "", "group id to fetch (e.g. VN30)")
	dryRun := flag.Bool("dry-run", false, "fetch and parse without writing to the database")
	flag.Parse()

	if *group == "" {
		fmt.Fprintln(os.Stderr, "usage: groupfetch -group VN30 [-dry-run]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.HTTPClient.Timeout = time.Duration(cfg.Fetcher.HTTPTimeout) * time.Second
	httpClient.Logger = nil

	fetcher := groupfetch.New(
		httpClient,
		func() browser.Manager { return browser.NewChromeManager(logger) },
		cfg.Fetcher.GroupEndpoint,
		cfg.Fetcher.BoardURL,
		time.Duration(cfg.Fetcher.CaptureTimeout)*time.Second,
		logger,
	)

	payload, err := fetcher.Fetch(ctx, *group)
	if err != nil {
		logger.Fatal("Group fetch failed", zap.String("group", *group), zap.Error(err))
	}

	meta, constituents, err := groupfetch.ParseGroup(*group, payload)
	if err != nil {
		logger.Fatal("Group parse failed", zap.String("group", *group), zap.Error(err))
	}
	logger.Info("Group Parsed",
		zap.String("code", meta.Code),
		zap.String("name", meta.Name),
		zap.Int("constituents", len(constituents)))

	if *dryRun {
		for _, c := range constituents {
			logger.Info("Constituent", zap.String("symbol", c.Symbol), zap.String("name", c.Name))
		}
		return
	}

	store, err := storage.NewPostgres(ctx, cfg.Postgres.URL(), cfg.Postgres.MaxConns)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer store.Close()

	if err := store.SaveGroup(ctx, meta, constituents); err != nil {
		logger.Fatal("Group save failed", zap.String("group", *group), zap.Error(err))
	}
	logger.Info("Group Saved", zap.String("code", meta.Code), zap.Int("constituents", len(constituents)))
}
