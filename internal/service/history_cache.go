package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/dm-service/internal/cache"
	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

// HistoryCache is the cache-aside layer in front of conversation history.
// Concurrent misses for one conversation share a single load unless an
// invalidation separates them, and a load that overlaps an invalidation is not
// written back.
type HistoryCache struct {
	store cache.MessageCache
	ttl   time.Duration
	group singleflight.Group

	// Only conversations with a load in flight are tracked; an invalidation
	// with no load in flight has nothing to fence.
	mu       sync.Mutex
	inflight map[string]*loadState
}

type loadState struct {
	generation uint64
	callers    int
}

func NewHistoryCache(store cache.MessageCache, ttl time.Duration) *HistoryCache {
	return &HistoryCache{
		store:    store,
		ttl:      ttl,
		inflight: make(map[string]*loadState),
	}
}

func (h *HistoryCache) acquire(conversationID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.inflight[conversationID]
	if !ok {
		st = &loadState{}
		h.inflight[conversationID] = st
	}
	st.callers++
	return st.generation
}

func (h *HistoryCache) release(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.inflight[conversationID]; ok {
		if st.callers--; st.callers <= 0 {
			delete(h.inflight, conversationID)
		}
	}
}

func (h *HistoryCache) generation(conversationID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.inflight[conversationID]; ok {
		return st.generation
	}
	return 0
}

func (h *HistoryCache) tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

// Load returns the cached history or calls loader and caches its result.
func (h *HistoryCache) Load(ctx context.Context, conversationID string, loader func() ([]*domain.Message, error)) ([]*domain.Message, error) {
	l := log.Ctx(ctx)

	cached, err := h.store.Get(ctx, conversationID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("history cache read failed")
	}

	gen := h.acquire(conversationID)
	defer h.release(conversationID)
	key := fmt.Sprintf("%s#%d", conversationID, gen)
	v, err, _ := h.group.Do(key, func() (interface{}, error) {
		messages, err := loader()
		if err != nil {
			return nil, err
		}

		if h.generation(conversationID) != gen {
			return messages, nil
		}
		if err := h.store.Set(ctx, conversationID, messages, h.ttl); err != nil {
			l.Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("history cache write failed")
			return messages, nil
		}
		// An invalidation that raced the write must not leave it behind.
		if h.generation(conversationID) != gen {
			if err := h.store.Invalidate(ctx, conversationID); err != nil {
				l.Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("history cache invalidation failed")
			}
		}
		return messages, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Message), nil
}

// Invalidate drops the cached history after the conversation changed.
func (h *HistoryCache) Invalidate(ctx context.Context, conversationID string) {
	h.mu.Lock()
	if st, ok := h.inflight[conversationID]; ok {
		st.generation++
	}
	h.mu.Unlock()

	if err := h.store.Invalidate(ctx, conversationID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("history cache invalidation failed")
	}
}
