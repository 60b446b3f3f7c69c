package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

const eventBuffer = 256

var ErrClosed = errors.New("pubsub: closed")

// RedisPubSub runs the event bus over Redis PUBLISH/PSUBSCRIBE.
type RedisPubSub struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisPubSub wraps an existing client. Close releases subscriptions
// only; the client belongs to the caller.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	sub := r.client.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe %s: %w", pattern, err)
	}
	r.subs = append(r.subs, sub)

	out := make(chan *Event, eventBuffer)
	go r.pump(ctx, sub.Channel(redis.WithChannelSize(eventBuffer)), out)
	return out, nil
}

// pump decodes raw messages into out until ctx ends or the subscription
// closes. A full out drops the event instead of stalling the Redis reader.
func (r *RedisPubSub) pump(ctx context.Context, in <-chan *redis.Message, out chan<- *Event) {
	defer close(out)
	l := log.L()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}

			event := new(Event)
			if err := json.Unmarshal([]byte(msg.Payload), event); err != nil {
				l.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed pubsub event")
				continue
			}

			select {
			case out <- event:
			default:
				l.Warn().Str("channel", msg.Channel).Str(log.FieldTargetUserID, event.UserID).Msg("pubsub consumer lagging, event dropped")
			}
		}
	}
}

func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, sub := range r.subs {
		errs = append(errs, sub.Close())
	}
	r.subs = nil
	return errors.Join(errs...)
}

var _ PubSub = (*RedisPubSub)(nil)
