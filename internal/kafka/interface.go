package kafka

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

// Event types carried in the envelope and the event_type header.
const (
	EventMessageCreated  = "dm.message.created"
	EventReactionUpdated = "dm.reaction.updated"
)

// Envelope is the record value produced for every event. Records are keyed
// by ConversationID.
type Envelope struct {
	Type           string                `json:"type"`
	ConversationID string                `json:"conversationId"`
	ActorID        string                `json:"actorId"`
	OccurredAt     time.Time             `json:"occurredAt"`
	Message        *domain.Message       `json:"message,omitempty"`
	Reactions      *domain.ReactionState `json:"reactions,omitempty"`
}

func messageCreated(msg *domain.Message, at time.Time) *Envelope {
	return &Envelope{
		Type:           EventMessageCreated,
		ConversationID: msg.ConversationID,
		ActorID:        msg.Sender,
		OccurredAt:     at.UTC(),
		Message:        msg,
	}
}

func reactionUpdated(actorID string, state *domain.ReactionState, at time.Time) *Envelope {
	return &Envelope{
		Type:           EventReactionUpdated,
		ConversationID: state.ConversationID,
		ActorID:        actorID,
		OccurredAt:     at.UTC(),
		Reactions:      state,
	}
}

// EventProducer emits domain events after they are committed. Produce calls
// are asynchronous and never block on the broker.
type EventProducer interface {
	ProduceMessageCreated(ctx context.Context, msg *domain.Message) error
	ProduceReactionUpdated(ctx context.Context, actorID string, state *domain.ReactionState) error
	Close() error
}
