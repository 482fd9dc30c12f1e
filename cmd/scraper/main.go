package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pnthang/market-collector/cmd/scraper/internal/control"
	"github.com/pnthang/market-collector/cmd/scraper/internal/ingest"
	"github.com/pnthang/market-collector/cmd/scraper/internal/livecache"
	"github.com/pnthang/market-collector/cmd/scraper/internal/publish"
	"github.com/pnthang/market-collector/cmd/scraper/internal/snapshot"
	"github.com/pnthang/market-collector/cmd/scraper/internal/stream"
	"github.com/pnthang/market-collector/pkg/browser"
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

	cache := livecache.New(nil)

	// Optional fan-outs. The scraper runs standalone with both disabled.
	var publishers []publish.Publisher
	var feedClient *redis.Client
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		publishers = append(publishers, publish.NewRedisPublisher(rdb, logger))

		feedClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if cfg.Kafka.Enabled {
		writer := publish.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, publish.NewKafkaPublisher(writer, logger))
	}

	pipeline := ingest.New(
		func() browser.Manager { return browser.NewChromeManager(logger) },
		cache, publishers, logger, cfg.Scraper.BoardURL,
	)
	if err := pipeline.Start(ctx); err != nil {
		logger.Fatal("Failed to start ingestion", zap.Error(err))
	}

	gate := func(t time.Time) (bool, error) {
		return markethours.IsOpenAt(t, cfg.Market.Timezone)
	}
	scheduler := snapshot.New(cache, store, gate, nil, logger, snapshot.Options{
		Source:      cfg.Scraper.Source,
		Prefix:      cfg.Scraper.Prefix,
		Interval:    cfg.Scraper.SnapshotIntervalDuration(),
		DryRun:      cfg.Scraper.DryRun,
		CacheMaxAge: time.Duration(cfg.Scraper.CacheMaxAge) * time.Minute,
	})
	go scheduler.Run(ctx)

	// The live websocket needs the Redis feed; without Redis the /ws route
	// simply has no hub behind it.
	var hub *stream.Hub
	if feedClient != nil {
		hub = stream.NewHub(stream.NewRedisFeed(feedClient), cache.Has, logger)
	}

	ctl := control.NewServer(pipeline, scheduler, cache, hub, logger, cfg.Control.Token)
	srv := &http.Server{Addr: cfg.Control.Addr, Handler: ctl.Handler()}

	go func() {
		logger.Info("Control Server Started", zap.String("addr", cfg.Control.Addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, stopping scraper...")

	cancel()
	pipeline.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	for _, pub := range publishers {
		if err := pub.Close(); err != nil {
			logger.Error("Error closing publisher", zap.Error(err))
		}
	}

	logger.Info("Scraper exited cleanly")
}
