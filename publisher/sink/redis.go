package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tablewatch/tablewatch/cfg"
	"github.com/tablewatch/tablewatch/publisher"
)

const redisPublishTimeout = 5 * time.Second

func init() {
	publisher.RegisterSink("redis", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.RedisURL == "" {
			return nil, fmt.Errorf("redis sink requires redis_url")
		}
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis_url: %w", err)
		}
		return NewRedisSink(redis.NewClient(opt)), nil
	})
}

// RedisSink publishes events via Redis Pub/Sub. The topic is the channel;
// the record key is not carried since Pub/Sub messages have no key.
type RedisSink struct {
	Client *redis.Client
}

// NewRedisSink wraps an existing client
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{Client: client}
}

// Publish sends value on channel topic
func (s *RedisSink) Publish(topic, _ string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	return s.Client.Publish(ctx, topic, value).Err()
}

// Close closes the client
func (s *RedisSink) Close() error {
	return s.Client.Close()
}
