package kafka

import (
	"context"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

// NoopProducer drops every event. Used when kafka is disabled.
type NoopProducer struct{}

func NewNoopProducer() *NoopProducer {
	return &NoopProducer{}
}

func (NoopProducer) ProduceMessageCreated(context.Context, *domain.Message) error {
	return nil
}

func (NoopProducer) ProduceReactionUpdated(context.Context, string, *domain.ReactionState) error {
	return nil
}

func (NoopProducer) Close() error {
	return nil
}

var _ EventProducer = NoopProducer{}
