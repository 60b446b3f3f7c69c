package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/dm-service/internal/config"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

// RedisMirror keeps one sorted set per user whose members are instance ids
// scored by their expiry time. A user is online while any member is unexpired.
type RedisMirror struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedUsers      map[string]struct{} // users online on this instance
	mu                sync.RWMutex
	cancel            context.CancelFunc
}

// NewRedisMirror uses a shared client; Close leaves the client open.
func NewRedisMirror(client *redis.Client, cfg config.RedisConfig, instanceID string) *RedisMirror {
	return &RedisMirror{
		client:            client,
		instanceID:        instanceID,
		prefix:            cfg.PresencePrefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedUsers:      make(map[string]struct{}),
	}
}

func (r *RedisMirror) keyFor(userID string) string {
	return fmt.Sprintf("%s:user:%s", r.prefix, userID)
}

func (r *RedisMirror) MarkOnline(ctx context.Context, userID string) error {
	if err := r.touch(ctx, userID); err != nil {
		return fmt.Errorf("failed to mark user online: %w", err)
	}

	r.mu.Lock()
	r.managedUsers[userID] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *RedisMirror) MarkOffline(ctx context.Context, userID string) error {
	r.mu.Lock()
	delete(r.managedUsers, userID)
	r.mu.Unlock()

	if err := r.client.ZRem(ctx, r.keyFor(userID), r.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to mark user offline: %w", err)
	}
	return nil
}

func (r *RedisMirror) IsOnline(ctx context.Context, userID string) (bool, error) {
	key := r.keyFor(userID)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", now)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to read presence: %w", err)
	}
	return card.Val() > 0, nil
}

func (r *RedisMirror) touch(ctx context.Context, userID string) error {
	key := r.keyFor(userID)
	expiry := time.Now().Add(r.keyTTL).UnixMilli()

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry), Member: r.instanceID})
	pipe.Expire(ctx, key, r.keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisMirror) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("presence heartbeat started")
	return nil
}

func (r *RedisMirror) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *RedisMirror) refresh(ctx context.Context) {
	r.mu.RLock()
	users := make([]string, 0, len(r.managedUsers))
	for u := range r.managedUsers {
		users = append(users, u)
	}
	r.mu.RUnlock()

	for _, userID := range users {
		if err := r.touch(ctx, userID); err != nil {
			l := log.L()
			l.Error().Str(log.FieldUserID, userID).Err(err).Msg("failed to refresh presence")
		}
	}
}

func (r *RedisMirror) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Close removes this instance from every managed user's set.
func (r *RedisMirror) Close() error {
	r.StopHeartbeat()

	r.mu.RLock()
	users := make([]string, 0, len(r.managedUsers))
	for u := range r.managedUsers {
		users = append(users, u)
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var firstErr error
	for _, userID := range users {
		if err := r.client.ZRem(ctx, r.keyFor(userID), r.instanceID).Err(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ PresenceMirror = (*RedisMirror)(nil)
