package stream

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/pnthang/market-collector/cmd/scraper/internal/publish"
)

const channelPrefix = "quotes."

// FeedSource is the upstream quote feed the hub consumes.
type FeedSource interface {
	GetSnapshots(ctx context.Context, codes []string) ([]string, error)
	SubscribeToFeed(ctx context.Context, code string) error
	UnsubscribeFromFeed(ctx context.Context, code string) error
	RunPubSub(ctx context.Context, onMessage func(code string, payload string))
	Close() error
}

// Compile-time check to ensure RedisFeed implements FeedSource
var _ FeedSource = (*RedisFeed)(nil)

// RedisFeed reads the quote keys and pub/sub channels the ingestion side
// writes through publish.RedisPublisher.
type RedisFeed struct {
	client *redis.Client
	pubsub *redis.PubSub
	mu     sync.Mutex
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	ps := client.Subscribe(context.Background())
	return &RedisFeed{
		client: client,
		pubsub: ps,
	}
}

// GetSnapshots fetches the latest cached quote for a list of codes (MGET)
func (r *RedisFeed) GetSnapshots(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = publish.KeyFor(code)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots []string
	for _, val := range results {
		if payload, ok := val.(string); ok && payload != "" {
			snapshots = append(snapshots, payload)
		}
	}
	return snapshots, nil
}

func (r *RedisFeed) SubscribeToFeed(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Subscribe(ctx, publish.ChannelFor(code))
}

func (r *RedisFeed) UnsubscribeFromFeed(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Unsubscribe(ctx, publish.ChannelFor(code))
}

// RunPubSub is a blocking loop that reads messages from Redis and triggers
// the callback. Codes may themselves contain dots or colons, so the channel
// name is stripped by prefix, not split.
func (r *RedisFeed) RunPubSub(ctx context.Context, onMessage func(code string, payload string)) {
	ch := r.pubsub.Channel()

	for msg := range ch {
		code := strings.TrimPrefix(msg.Channel, channelPrefix)
		if code == msg.Channel || code == "" {
			continue
		}
		onMessage(code, msg.Payload)
	}
}

func (r *RedisFeed) Close() error {
	if err := r.pubsub.Close(); err != nil {
		return err
	}
	return r.client.Close()
}
