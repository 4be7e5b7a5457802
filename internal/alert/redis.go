package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ids-guard/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisPublishTimeout = 3 * time.Second

// RedisNotifier publishes block events as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *logrus.Logger
}

func NewRedisNotifier(ctx context.Context, url, channel string, logger *logrus.Logger) (*RedisNotifier, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Infof("[Redis] publishing block events on %s", channel)
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger,
	}, nil
}

func (rn *RedisNotifier) SendEvent(event model.BlockEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := rn.client.Publish(ctx, rn.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (rn *RedisNotifier) Close() error {
	return rn.client.Close()
}
