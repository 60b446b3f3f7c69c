package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/dm-service/internal/config"
	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBufferSize: 2,
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub(testConfig())
	go h.Run()
	defer h.Stop()

	c := NewClient("c1", h, nil, h.Config())
	h.Register(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Unregister(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	assert.False(t, c.Send(domain.PongEvent{Type: domain.EventPong}))
}

func TestClient_SendDropsWhenBufferFull(t *testing.T) {
	h := NewHub(testConfig())
	c := NewClient("c1", h, nil, h.Config())

	assert.True(t, c.Send(domain.PongEvent{Type: domain.EventPong}))
	assert.True(t, c.Send(domain.PongEvent{Type: domain.EventPong}))
	assert.False(t, c.Send(domain.PongEvent{Type: domain.EventPong}))

	frame := <-c.send
	assert.JSONEq(t, `{"type":"pong"}`, string(frame))
}

func TestHub_StopClosesClients(t *testing.T) {
	h := NewHub(testConfig())
	go h.Run()

	c := NewClient("c1", h, nil, h.Config())
	h.Register(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Stop()
	require.Eventually(t, func() bool { return !c.Send(domain.PongEvent{Type: domain.EventPong}) }, time.Second, 5*time.Millisecond)

	// Unregister after stop must not block.
	h.Unregister(c)
}
