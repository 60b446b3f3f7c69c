package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

type RedisMessageCache struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageCache(client *redis.Client, prefix string) *RedisMessageCache {
	return &RedisMessageCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisMessageCache) BuildKey(conversationID string) string {
	return fmt.Sprintf("%s:history:%s", c.prefix, conversationID)
}

func (c *RedisMessageCache) Get(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	data, err := c.client.Get(ctx, c.BuildKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var messages []*domain.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return messages, nil
}

func (c *RedisMessageCache) Set(ctx context.Context, conversationID string, messages []*domain.Message, ttl time.Duration) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, c.BuildKey(conversationID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	return nil
}

func (c *RedisMessageCache) Invalidate(ctx context.Context, conversationID string) error {
	if err := c.client.Del(ctx, c.BuildKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

var _ MessageCache = (*RedisMessageCache)(nil)
