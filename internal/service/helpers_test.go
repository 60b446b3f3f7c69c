package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/dm-service/internal/cache"
	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/dm-service/internal/lock"
	"github.com/weiawesome/wes-io-live/dm-service/internal/repository"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/database"
)

type fakeDirectory struct {
	mu    sync.Mutex
	users map[string]*domain.User
	posts map[string]*domain.Post
}

func newFakeDirectory(userIDs ...string) *fakeDirectory {
	d := &fakeDirectory{
		users: make(map[string]*domain.User),
		posts: make(map[string]*domain.Post),
	}
	for _, id := range userIDs {
		d.users[id] = &domain.User{ID: id, Username: id + "_name"}
	}
	return d
}

func (d *fakeDirectory) GetUser(_ context.Context, userID string) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (d *fakeDirectory) GetPost(_ context.Context, postID string) (*domain.Post, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.posts[postID]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	copied := *p
	return &copied, nil
}

func (d *fakeDirectory) putUser(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.users[id] = &domain.User{ID: id, Username: id + "_name"}
	}
}

func (d *fakeDirectory) putPost(p *domain.Post) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.posts[p.ID] = p
}

// passLocker runs fn without any mutual exclusion.
type passLocker struct{}

func (passLocker) WithLock(_ context.Context, _ string, fn func() error) error {
	return fn()
}

// recordingProducer captures produced events.
type recordingProducer struct {
	mu        sync.Mutex
	messages  []*domain.Message
	reactions []*domain.ReactionState
}

func (p *recordingProducer) ProduceMessageCreated(_ context.Context, msg *domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingProducer) ProduceReactionUpdated(_ context.Context, _ string, state *domain.ReactionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reactions = append(p.reactions, state)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

var _ kafka.EventProducer = (*recordingProducer)(nil)

// memoryCache is an in-process MessageCache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]*domain.Message
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]*domain.Message)}
}

func (c *memoryCache) Get(_ context.Context, conversationID string) ([]*domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[conversationID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return m, nil
}

func (c *memoryCache) Set(_ context.Context, conversationID string, messages []*domain.Message, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[conversationID] = messages
	c.sets++
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
	return nil
}

func (c *memoryCache) BuildKey(conversationID string) string { return "mem:" + conversationID }

// fakeConn records every frame sent to it as JSON.
type fakeConn struct {
	id      string
	session *domain.Session
	full    bool

	mu     sync.Mutex
	frames []json.RawMessage
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, session: domain.NewSession(id)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Session() *domain.Session { return c.session }

func (c *fakeConn) Send(v interface{}) bool {
	if c.full {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return true
}

// framesOf returns the received frames of the given type, decoded as maps.
func (c *fakeConn) framesOf(eventType string) []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]interface{}
	for _, raw := range c.frames {
		var frame map[string]interface{}
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame["type"] == eventType {
			out = append(out, frame)
		}
	}
	return out
}

func testDBConfig(t *testing.T) *database.Config {
	t.Helper()
	return &database.Config{
		Driver:       "sqlite",
		FilePath:     fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}
}

type testEnv struct {
	dir           *fakeDirectory
	producer      *recordingProducer
	historyStore  *memoryCache
	convRepo      repository.ConversationRepository
	msgRepo       repository.MessageRepository
	conversations ConversationService
	messages      MessageService
	reactions     ReactionService
}

func newTestEnv(t *testing.T, locker lock.Locker) *testEnv {
	t.Helper()

	db, err := database.New(testDBConfig(t))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, &domain.ConversationModel{}, &domain.MessageModel{}))

	env := &testEnv{
		dir:          newFakeDirectory("alice", "bob", "carol"),
		producer:     &recordingProducer{},
		historyStore: newMemoryCache(),
		convRepo:     repository.NewGormConversationRepository(db),
		msgRepo:      repository.NewGormMessageRepository(db),
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}

	env.conversations, err = NewConversationService(env.convRepo, env.dir, locker, 0)
	require.NoError(t, err)

	history := NewHistoryCache(env.historyStore, time.Minute)
	env.messages = NewMessageService(env.conversations, env.msgRepo, env.dir, env.dir, history, env.producer)
	env.reactions = NewReactionService(env.conversations, env.msgRepo, history, env.producer)
	return env
}

func (e *testEnv) conversation(t *testing.T, a, b string) *domain.Conversation {
	t.Helper()
	c, err := e.conversations.FindOrCreate(context.Background(), a, a, b)
	require.NoError(t, err)
	return c
}
