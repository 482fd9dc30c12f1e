package publish

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/pnthang/market-collector/pkg/models"
)

// Publisher fans a normalized quote out to one downstream.
type Publisher interface {
	Publish(ctx context.Context, rec models.QuoteRecord) error
	Close() error
}

// RedisClient abstracts the Redis connection
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Pipeline() redis.Pipeliner
	Close() error
}

// Pipeliner abstracts the Redis pipeline operations
type Pipeliner interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// KafkaWriter abstracts the Kafka producer
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
