package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// MessageCache holds the full ordered history of a conversation.
type MessageCache interface {
	Get(ctx context.Context, conversationID string) ([]*domain.Message, error)
	Set(ctx context.Context, conversationID string, messages []*domain.Message, ttl time.Duration) error
	// Invalidate drops the cached history after a mutation.
	Invalidate(ctx context.Context, conversationID string) error
	BuildKey(conversationID string) string
}
