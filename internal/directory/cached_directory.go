package directory

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

type cachedUser struct {
	user      *domain.User
	expiresAt time.Time
}

// CachedUserDirectory keeps recently resolved users in an in-process LRU.
// Misses are not cached.
type CachedUserDirectory struct {
	next  UserDirectory
	cache *lru.Cache
	ttl   time.Duration
	mu    sync.Mutex
	now   func() time.Time
}

func NewCachedUserDirectory(next UserDirectory, size int, ttl time.Duration) (*CachedUserDirectory, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedUserDirectory{
		next:  next,
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

func (d *CachedUserDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	d.mu.Lock()
	if val, ok := d.cache.Get(userID); ok {
		entry := val.(cachedUser)
		if d.now().Before(entry.expiresAt) {
			d.mu.Unlock()
			return entry.user, nil
		}
		d.cache.Remove(userID)
	}
	d.mu.Unlock()

	user, err := d.next.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache.Add(userID, cachedUser{user: user, expiresAt: d.now().Add(d.ttl)})
	d.mu.Unlock()
	return user, nil
}

var _ UserDirectory = (*CachedUserDirectory)(nil)
