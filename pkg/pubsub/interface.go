package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the envelope relayed between instances. Payload is the frame for
// UserID's connections. Origin names the publishing instance so it can skip
// its own echoes, and ExceptConn a connection that already has the frame.
type Event struct {
	Type       string          `json:"type"`
	UserID     string          `json:"user_id"`
	Origin     string          `json:"origin,omitempty"`
	ExceptConn string          `json:"except_conn,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

func NewEvent(eventType, userID string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{Type: eventType, UserID: userID, Payload: data, Timestamp: time.Now().UTC()}, nil
}

// UnmarshalPayload decodes the payload into v.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// PubSub is a fire-and-forget event bus. Subscribers see only events
// published after the subscription is confirmed.
type PubSub interface {
	Publish(ctx context.Context, channel string, event *Event) error
	// SubscribePattern streams events from every channel matching pattern.
	// The channel is closed when ctx ends or the bus is closed.
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Close() error
}
