package cache

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

// NoopMessageCache always misses. Used when caching is disabled.
type NoopMessageCache struct{}

func NewNoopMessageCache() *NoopMessageCache {
	return &NoopMessageCache{}
}

func (NoopMessageCache) Get(context.Context, string) ([]*domain.Message, error) {
	return nil, ErrCacheMiss
}

func (NoopMessageCache) Set(context.Context, string, []*domain.Message, time.Duration) error {
	return nil
}

func (NoopMessageCache) Invalidate(context.Context, string) error {
	return nil
}

func (NoopMessageCache) BuildKey(conversationID string) string {
	return conversationID
}

var _ MessageCache = NoopMessageCache{}
