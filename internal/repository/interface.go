package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

var (
	// ErrConversationExists is returned when the pair key is already taken.
	ErrConversationExists = errors.New("conversation already exists for pair")
	// ErrConcurrentUpdate is returned when an optimistic update keeps losing.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// ReactionMutation computes a new reaction list from the stored one.
type ReactionMutation func(current []domain.Reaction) []domain.Reaction

type ConversationRepository interface {
	// Create inserts c. It fails with ErrConversationExists when another
	// conversation already holds c.PairKey.
	Create(ctx context.Context, c *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	GetByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error)
	ListByMember(ctx context.Context, userID string) ([]*domain.Conversation, error)
}

type MessageRepository interface {
	// Append stores m at the tail of its conversation. CreatedAt may be moved
	// forward so that it is strictly after the current tail.
	Append(ctx context.Context, m *domain.Message) (*domain.Message, error)
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	// ListByConversation returns the full log ordered by (createdAt, id).
	ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error)
	// UpdateReactions applies mutate atomically to the stored reaction list.
	UpdateReactions(ctx context.Context, messageID string, mutate ReactionMutation) (*domain.Message, error)
}

const maxUpdateAttempts = 5

// nextCreatedAt keeps a conversation's timestamps strictly increasing.
func nextCreatedAt(candidate, tail time.Time) time.Time {
	if tail.IsZero() || candidate.After(tail) {
		return candidate
	}
	return tail.Add(time.Microsecond)
}
