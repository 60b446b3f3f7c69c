package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/dm-service/pkg/pubsub"
)

// memoryPubSub fans published events out to pattern subscribers in process.
type memoryPubSub struct {
	mu   sync.Mutex
	subs []chan *pubsub.Event
	sent []string
}

func (m *memoryPubSub) Publish(_ context.Context, channel string, event *pubsub.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, channel)
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, ch := range m.subs {
		var copied pubsub.Event
		if err := json.Unmarshal(data, &copied); err != nil {
			return err
		}
		ch <- &copied
	}
	return nil
}

func (m *memoryPubSub) SubscribePattern(context.Context, string) (<-chan *pubsub.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan *pubsub.Event, 10)
	m.subs = append(m.subs, ch)
	return ch, nil
}

func (m *memoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	return nil
}

type delivery struct {
	userID     string
	exceptConn string
	frame      string
}

func TestPubSubRelay_DeliversRemoteFramesOnly(t *testing.T) {
	bus := &memoryPubSub{}
	local := NewPubSubRelay(bus, "dm", "instance-a")
	remote := NewPubSubRelay(bus, "dm", "instance-b")

	got := make(chan delivery, 4)
	record := func(name string) DeliverFunc {
		return func(userID, exceptConn string, frame json.RawMessage) {
			got <- delivery{userID: name + "/" + userID, exceptConn: exceptConn, frame: string(frame)}
		}
	}
	ctx := context.Background()
	require.NoError(t, local.Start(ctx, record("a")))
	require.NoError(t, remote.Start(ctx, record("b")))

	require.NoError(t, local.Publish(ctx, "bob", "conn-1", map[string]string{"type": "receiveMessage"}))

	select {
	case d := <-got:
		assert.Equal(t, "b/bob", d.userID)
		assert.Equal(t, "conn-1", d.exceptConn)
		assert.JSONEq(t, `{"type":"receiveMessage"}`, d.frame)
	case <-time.After(time.Second):
		t.Fatal("remote instance did not receive the frame")
	}

	select {
	case d := <-got:
		t.Fatalf("unexpected delivery %+v", d)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, []string{"dm:user:bob"}, bus.sent)
	require.NoError(t, local.Close())
}
