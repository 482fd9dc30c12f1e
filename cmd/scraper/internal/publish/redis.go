// Package publish fans normalized quotes out to optional downstreams. Each
// publisher is independent; a failing downstream never blocks ingestion.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pnthang/market-collector/pkg/models"
)

const quoteTTL = 1 * time.Hour

// KeyFor returns the Redis key holding the latest quote for a code.
func KeyFor(code string) string { return fmt.Sprintf("quote:%s", code) }

// ChannelFor returns the pub/sub channel carrying updates for a code.
func ChannelFor(code string) string { return fmt.Sprintf("quotes.%s", code) }

// RedisPublisher mirrors each quote into Redis: a keyed snapshot for late
// joiners plus a pub/sub message for live subscribers, written atomically
// through one pipeline.
type RedisPublisher struct {
	rdb    RedisClient
	logger *zap.Logger
}

func NewRedisPublisher(rdb RedisClient, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: logger}
}

func (r *RedisPublisher) Publish(ctx context.Context, rec models.QuoteRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal quote %s: %w", rec.Code, err)
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, KeyFor(rec.Code), payload, quoteTTL)
	pipe.Publish(ctx, ChannelFor(rec.Code), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("code", rec.Code))
		return err
	}
	return nil
}

func (r *RedisPublisher) Close() error {
	return r.rdb.Close()
}
