package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/dm-service/internal/registry"
	"github.com/weiawesome/wes-io-live/dm-service/internal/relay"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/jwt"
)

type fakeMirror struct {
	mu      sync.Mutex
	online  map[string]bool
	marks   []string
	started bool
	closed  bool
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{online: make(map[string]bool)}
}

func (m *fakeMirror) MarkOnline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[userID] = true
	m.marks = append(m.marks, "online:"+userID)
	return nil
}

func (m *fakeMirror) MarkOffline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online, userID)
	m.marks = append(m.marks, "offline:"+userID)
	return nil
}

func (m *fakeMirror) IsOnline(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[userID], nil
}

func (m *fakeMirror) StartHeartbeat(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *fakeMirror) StopHeartbeat() {}

func (m *fakeMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type relayed struct {
	userID     string
	exceptConn string
}

type fakeRelay struct {
	mu        sync.Mutex
	published []relayed
	deliver   relay.DeliverFunc
}

func (r *fakeRelay) Publish(_ context.Context, userID, exceptConn string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, relayed{userID: userID, exceptConn: exceptConn})
	return nil
}

func (r *fakeRelay) Start(_ context.Context, deliver relay.DeliverFunc) error {
	r.deliver = deliver
	return nil
}

func (r *fakeRelay) Close() error { return nil }

func newTestDelivery(t *testing.T, env *testEnv, opts DeliveryOptions) (DeliveryService, registry.Registry) {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	if opts.TypingWindow == 0 {
		opts.TypingWindow = 50 * time.Millisecond
	}
	d, err := NewDeliveryService(reg, env.conversations, env.messages, env.dir, opts)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })
	return d, reg
}

func identify(t *testing.T, d DeliveryService, connID, userID string) *fakeConn {
	t.Helper()
	conn := newFakeConn(connID)
	d.HandleConnect(context.Background(), conn)
	require.NoError(t, d.HandleAddUser(context.Background(), conn, &domain.AddUserEvent{
		Type:   domain.EventAddUser,
		UserID: userID,
	}))
	return conn
}

func lastErrorCode(c *fakeConn) string {
	frames := c.framesOf(domain.EventError)
	if len(frames) == 0 {
		return ""
	}
	code, _ := frames[len(frames)-1]["code"].(string)
	return code
}

func TestDeliveryService_ConnectionStates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	d, reg := newTestDelivery(t, env, DeliveryOptions{})

	conn := newFakeConn("c1")
	d.HandleConnect(ctx, conn)
	assert.Equal(t, domain.StateConnected, conn.Session().GetState())

	err := d.HandleSendMessage(ctx, conn, &domain.SendMessageEvent{ConversationID: conv.ID, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotIdentified)
	assert.Equal(t, domain.ErrCodeNotIdentified, lastErrorCode(conn))

	err = d.HandleTyping(ctx, conn, &domain.TypingEvent{ConversationID: conv.ID})
	assert.ErrorIs(t, err, ErrNotIdentified)

	err = d.HandleAddUser(ctx, conn, &domain.AddUserEvent{UserID: " "})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.ErrCodeBadRequest, lastErrorCode(conn))

	require.NoError(t, d.HandleAddUser(ctx, conn, &domain.AddUserEvent{UserID: "alice"}))
	assert.Equal(t, domain.StateIdentified, conn.Session().GetState())
	require.Len(t, conn.framesOf(domain.EventIdentified), 1)
	assert.True(t, reg.IsOnline("alice"))

	// Repeating addUser for the same user is harmless; switching users is not.
	require.NoError(t, d.HandleAddUser(ctx, conn, &domain.AddUserEvent{UserID: "alice"}))
	err = d.HandleAddUser(ctx, conn, &domain.AddUserEvent{UserID: "bob"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, domain.ErrCodeForbidden, lastErrorCode(conn))
	assert.False(t, reg.IsOnline("bob"))

	require.NoError(t, d.HandleDisconnect(ctx, conn))
	assert.Equal(t, domain.StateDisconnected, conn.Session().GetState())
	assert.False(t, reg.IsOnline("alice"))

	online, err := d.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestDeliveryService_AddUserWithTokens(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	manager, err := jwt.NewManager("test-secret", "dm-test", time.Hour)
	require.NoError(t, err)
	d, reg := newTestDelivery(t, env, DeliveryOptions{Tokens: manager})

	aliceToken, err := manager.GenerateToken("alice", "alice_name")
	require.NoError(t, err)

	conn := newFakeConn("c1")
	d.HandleConnect(ctx, conn)

	assert.Error(t, d.HandleAddUser(ctx, conn, &domain.AddUserEvent{UserID: "alice"}))
	assert.Equal(t, domain.ErrCodeUnauthorized, lastErrorCode(conn))

	assert.Error(t, d.HandleAddUser(ctx, conn, &domain.AddUserEvent{UserID: "alice", Token: "garbage"}))
	assert.Equal(t, domain.ErrCodeUnauthorized, lastErrorCode(conn))

	err = d.HandleAddUser(ctx, conn, &domain.AddUserEvent{UserID: "bob", Token: aliceToken})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.False(t, reg.IsOnline("bob"))
	assert.False(t, conn.Session().IsIdentified())

	require.NoError(t, d.HandleAddUser(ctx, conn, &domain.AddUserEvent{UserID: "alice", Token: aliceToken}))
	assert.True(t, reg.IsOnline("alice"))
}

func TestDeliveryService_SendMessageFanOut(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	d, _ := newTestDelivery(t, env, DeliveryOptions{})

	a1 := identify(t, d, "a1", "alice")
	a2 := identify(t, d, "a2", "alice")
	b1 := identify(t, d, "b1", "bob")
	c1 := identify(t, d, "c1", "carol")

	require.NoError(t, d.HandleSendMessage(ctx, a1, &domain.SendMessageEvent{
		Type:           domain.EventSendMessage,
		ConversationID: conv.ID,
		ReceiverID:     "bob",
		Text:           "hello bob",
	}))

	got := b1.framesOf(domain.EventReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "hello bob", got[0]["text"])
	assert.Equal(t, "bob", got[0]["receiverId"])
	assert.Equal(t, "alice", got[0]["sender"])
	assert.Equal(t, conv.ID, got[0]["conversationId"])

	assert.Len(t, a2.framesOf(domain.EventReceiveMessage), 1)
	assert.Empty(t, a1.framesOf(domain.EventReceiveMessage))
	assert.Empty(t, c1.framesOf(domain.EventReceiveMessage))

	list, err := env.messages.List(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, got[0]["id"], list[0].ID)
}

func TestDeliveryService_PersistedMessageDeliveredOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	d, _ := newTestDelivery(t, env, DeliveryOptions{})

	a1 := identify(t, d, "a1", "alice")
	b1 := identify(t, d, "b1", "bob")

	msg, err := env.messages.Append(ctx, conv.ID, "alice", "stored first")
	require.NoError(t, err)
	require.NoError(t, d.PublishMessage(ctx, msg, ""))

	// The client then announces the stored message on its event channel.
	require.NoError(t, d.HandleSendMessage(ctx, a1, &domain.SendMessageEvent{
		ConversationID: conv.ID,
		ReceiverID:     "bob",
		MessageID:      msg.ID,
	}))
	require.NoError(t, d.PublishMessage(ctx, msg, ""))

	assert.Len(t, b1.framesOf(domain.EventReceiveMessage), 1)
	assert.Len(t, a1.framesOf(domain.EventReceiveMessage), 1)
}

func TestDeliveryService_OfflineRecipientReadsHistory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	d, reg := newTestDelivery(t, env, DeliveryOptions{})

	a1 := identify(t, d, "a1", "alice")
	c1 := identify(t, d, "c1", "carol")
	require.False(t, reg.IsOnline("bob"))

	missBefore := testutil.ToFloat64(metrics.DeliveryMisses.WithLabelValues(metrics.MissOffline))

	require.NoError(t, d.HandleSendMessage(ctx, a1, &domain.SendMessageEvent{
		ConversationID: conv.ID,
		ReceiverID:     "bob",
		Text:           "while you were away",
	}))

	assert.Empty(t, reg.Connections("bob"))
	assert.Empty(t, a1.framesOf(domain.EventReceiveMessage))
	assert.Empty(t, c1.framesOf(domain.EventReceiveMessage))
	assert.Equal(t, missBefore+1, testutil.ToFloat64(metrics.DeliveryMisses.WithLabelValues(metrics.MissOffline)))

	// Bob picks the message up from history once he is back.
	list, err := env.messages.List(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "while you were away", list[0].Text)
	assert.Equal(t, "alice", list[0].Sender)

	b1 := identify(t, d, "b1", "bob")
	assert.Empty(t, b1.framesOf(domain.EventReceiveMessage))
}

func TestDeliveryService_PublishRetriesAfterFailedResolve(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	d, _ := newTestDelivery(t, env, DeliveryOptions{})

	b1 := identify(t, d, "b1", "bob")

	msg, err := env.messages.Append(ctx, conv.ID, "alice", "second attempt")
	require.NoError(t, err)

	broken := *msg
	broken.ConversationID = "missing-conversation"
	assert.ErrorIs(t, d.PublishMessage(ctx, &broken, ""), domain.ErrConversationNotFound)
	assert.Empty(t, b1.framesOf(domain.EventReceiveMessage))

	require.NoError(t, d.PublishMessage(ctx, msg, ""))
	require.NoError(t, d.PublishMessage(ctx, msg, ""))

	got := b1.framesOf(domain.EventReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0]["id"])
}

func TestDeliveryService_SendMessageRejects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	withBob := env.conversation(t, "alice", "bob")
	withCarol := env.conversation(t, "alice", "carol")
	bobCarol := env.conversation(t, "bob", "carol")
	d, _ := newTestDelivery(t, env, DeliveryOptions{})

	a1 := identify(t, d, "a1", "alice")
	b1 := identify(t, d, "b1", "bob")

	bobsMsg, err := env.messages.Append(ctx, withBob.ID, "bob", "from bob")
	require.NoError(t, err)
	otherMsg, err := env.messages.Append(ctx, withCarol.ID, "alice", "to carol")
	require.NoError(t, err)

	tests := []struct {
		name string
		ev   *domain.SendMessageEvent
		code string
	}{
		{"no text or id", &domain.SendMessageEvent{ConversationID: withBob.ID}, domain.ErrCodeBadRequest},
		{"wrong receiver", &domain.SendMessageEvent{ConversationID: withBob.ID, ReceiverID: "carol", Text: "hi"}, domain.ErrCodeBadRequest},
		{"not a member", &domain.SendMessageEvent{ConversationID: bobCarol.ID, Text: "hi"}, domain.ErrCodeForbidden},
		{"unknown conversation", &domain.SendMessageEvent{ConversationID: "missing", Text: "hi"}, domain.ErrCodeNotFound},
		{"message from another conversation", &domain.SendMessageEvent{ConversationID: withBob.ID, MessageID: otherMsg.ID}, domain.ErrCodeBadRequest},
		{"message by another sender", &domain.SendMessageEvent{ConversationID: withBob.ID, MessageID: bobsMsg.ID}, domain.ErrCodeForbidden},
		{"unknown message", &domain.SendMessageEvent{ConversationID: withBob.ID, MessageID: "missing"}, domain.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, d.HandleSendMessage(ctx, a1, tt.ev))
			assert.Equal(t, tt.code, lastErrorCode(a1))
		})
	}

	assert.Empty(t, b1.framesOf(domain.EventReceiveMessage))
}

func TestDeliveryService_TypingTargetsOtherMember(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	d, _ := newTestDelivery(t, env, DeliveryOptions{TypingWindow: 40 * time.Millisecond})

	a1 := identify(t, d, "a1", "alice")
	b1 := identify(t, d, "b1", "bob")
	c1 := identify(t, d, "c1", "carol")

	require.NoError(t, d.HandleTyping(ctx, a1, &domain.TypingEvent{ConversationID: conv.ID}))
	require.NoError(t, d.HandleTyping(ctx, a1, &domain.TypingEvent{ConversationID: conv.ID, SenderName: "Alice"}))

	typing := b1.framesOf(domain.EventTyping)
	require.Len(t, typing, 2)
	assert.Equal(t, "alice_name", typing[0]["senderName"])
	assert.Equal(t, "Alice", typing[1]["senderName"])
	assert.Equal(t, "alice", typing[1]["userId"])
	assert.EqualValues(t, 40, typing[1]["expiresInMs"])

	assert.Empty(t, a1.framesOf(domain.EventTyping))
	assert.Empty(t, c1.framesOf(domain.EventTyping))

	assert.Eventually(t, func() bool {
		return len(b1.framesOf(domain.EventStopTyping)) == 1
	}, time.Second, 10*time.Millisecond)

	// The repeated typing event restarted the window instead of adding one.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, b1.framesOf(domain.EventStopTyping), 1)

	err := d.HandleTyping(ctx, c1, &domain.TypingEvent{ConversationID: conv.ID})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	err = d.HandleTyping(ctx, a1, &domain.TypingEvent{ConversationID: conv.ID, ReceiverID: "carol"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeliveryService_DisconnectEndsTyping(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	d, _ := newTestDelivery(t, env, DeliveryOptions{TypingWindow: time.Minute})

	a1 := identify(t, d, "a1", "alice")
	b1 := identify(t, d, "b1", "bob")

	require.NoError(t, d.HandleTyping(ctx, a1, &domain.TypingEvent{ConversationID: conv.ID}))
	require.NoError(t, d.HandleDisconnect(ctx, a1))

	stops := b1.framesOf(domain.EventStopTyping)
	require.Len(t, stops, 1)
	assert.Equal(t, "alice", stops[0]["userId"])
	assert.Equal(t, conv.ID, stops[0]["conversationId"])
}

func TestDeliveryService_PresenceMirror(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	mirror := newFakeMirror()
	d, _ := newTestDelivery(t, env, DeliveryOptions{Mirror: mirror})

	mirror.mu.Lock()
	assert.True(t, mirror.started)
	mirror.online["remote-user"] = true
	mirror.mu.Unlock()

	a1 := identify(t, d, "a1", "alice")
	a2 := identify(t, d, "a2", "alice")

	online, err := d.IsOnline(ctx, "remote-user")
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, d.HandleDisconnect(ctx, a1))
	online, err = d.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, d.HandleDisconnect(ctx, a2))
	online, err = d.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	mirror.mu.Lock()
	assert.Equal(t, []string{"online:alice", "offline:alice"}, mirror.marks)
	mirror.mu.Unlock()

	require.NoError(t, d.Stop())
	mirror.mu.Lock()
	assert.True(t, mirror.closed)
	mirror.mu.Unlock()
}

func TestDeliveryService_Relay(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	rl := &fakeRelay{}
	d, _ := newTestDelivery(t, env, DeliveryOptions{Relay: rl})
	require.NotNil(t, rl.deliver)

	a1 := identify(t, d, "a1", "alice")
	a2 := identify(t, d, "a2", "alice")

	// bob is connected elsewhere; the frame goes through the relay.
	require.NoError(t, d.HandleSendMessage(ctx, a1, &domain.SendMessageEvent{ConversationID: conv.ID, Text: "hi"}))

	rl.mu.Lock()
	assert.Equal(t, []relayed{
		{userID: "bob", exceptConn: ""},
		{userID: "alice", exceptConn: "a1"},
	}, rl.published)
	rl.mu.Unlock()

	frame, err := json.Marshal(&domain.StopTypingOut{Type: domain.EventStopTyping, ConversationID: conv.ID, UserID: "bob"})
	require.NoError(t, err)
	rl.deliver("alice", "a2", frame)

	assert.Len(t, a1.framesOf(domain.EventStopTyping), 1)
	assert.Empty(t, a2.framesOf(domain.EventStopTyping))

	rl.deliver("alice", "", json.RawMessage(`not json`))
	assert.Len(t, a1.framesOf(domain.EventStopTyping), 1)
}

func TestDeliveryService_PublishReaction(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	d, _ := newTestDelivery(t, env, DeliveryOptions{})

	a1 := identify(t, d, "a1", "alice")
	b1 := identify(t, d, "b1", "bob")
	c1 := identify(t, d, "c1", "carol")

	msg, err := env.messages.Append(ctx, conv.ID, "alice", "react to me")
	require.NoError(t, err)
	state, err := env.reactions.SetReaction(ctx, msg.ID, "bob", "🔥")
	require.NoError(t, err)

	require.NoError(t, d.PublishReaction(ctx, "bob", state))

	for _, c := range []*fakeConn{a1, b1} {
		frames := c.framesOf(domain.EventReaction)
		require.Len(t, frames, 1)
		assert.Equal(t, msg.ID, frames[0]["messageId"])
		assert.Equal(t, "bob", frames[0]["userId"])
	}
	assert.Empty(t, c1.framesOf(domain.EventReaction))
}

func TestDeliveryService_FullBufferDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	conv := env.conversation(t, "alice", "bob")
	d, _ := newTestDelivery(t, env, DeliveryOptions{})

	a1 := identify(t, d, "a1", "alice")
	b1 := identify(t, d, "b1", "bob")
	b1.full = true

	require.NoError(t, d.HandleSendMessage(ctx, a1, &domain.SendMessageEvent{ConversationID: conv.ID, Text: "dropped"}))
	assert.Empty(t, b1.framesOf(domain.EventReceiveMessage))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{domain.ValidationError("text", "is required"), domain.ErrCodeBadRequest},
		{domain.ErrSelfConversation, domain.ErrCodeBadRequest},
		{domain.ErrMessageNotFound, domain.ErrCodeNotFound},
		{domain.ErrNotMember, domain.ErrCodeForbidden},
		{fmt.Errorf("wrapped: %w", domain.ErrPostAuthorNotFound), domain.ErrCodeNotFound},
		{errors.New("database is down"), domain.ErrCodeInternalError},
	}

	for _, tt := range tests {
		code, message := ErrorCode(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
		if tt.code == domain.ErrCodeInternalError {
			assert.Equal(t, "internal error", message)
		}
	}
}
