package relay

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-live/dm-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/pubsub"
)

// PubSubRelay publishes frames on per-user channels and pattern-subscribes
// to all of them. Frames published by this instance are ignored on receipt
// because they were already delivered locally.
type PubSubRelay struct {
	ps         pubsub.PubSub
	prefix     string
	instanceID string
}

func NewPubSubRelay(ps pubsub.PubSub, prefix, instanceID string) *PubSubRelay {
	return &PubSubRelay{ps: ps, prefix: prefix, instanceID: instanceID}
}

func (r *PubSubRelay) Publish(ctx context.Context, userID, exceptConn string, frame interface{}) error {
	event, err := pubsub.NewEvent(pubsub.EventDeliver, userID, frame)
	if err != nil {
		return fmt.Errorf("failed to build relay event: %w", err)
	}
	event.Origin = r.instanceID
	event.ExceptConn = exceptConn

	if err := r.ps.Publish(ctx, pubsub.UserChannel(r.prefix, userID), event); err != nil {
		metrics.RecordMiss(metrics.MissRelay)
		return fmt.Errorf("failed to publish relay event: %w", err)
	}
	return nil
}

func (r *PubSubRelay) Start(ctx context.Context, deliver DeliverFunc) error {
	events, err := r.ps.SubscribePattern(ctx, pubsub.UserChannelPattern(r.prefix))
	if err != nil {
		return fmt.Errorf("failed to subscribe relay pattern: %w", err)
	}

	go func() {
		l := log.L()
		l.Info().Str("pattern", pubsub.UserChannelPattern(r.prefix)).Msg("relay subscribed")
		for event := range events {
			r.handle(event, deliver)
		}
		l.Info().Msg("relay stopped")
	}()
	return nil
}

func (r *PubSubRelay) handle(event *pubsub.Event, deliver DeliverFunc) {
	if event.Type != pubsub.EventDeliver || event.Origin == r.instanceID || event.UserID == "" {
		return
	}
	deliver(event.UserID, event.ExceptConn, event.Payload)
}

func (r *PubSubRelay) Close() error {
	return r.ps.Close()
}

var _ Relay = (*PubSubRelay)(nil)
