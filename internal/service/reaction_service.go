package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/weiawesome/wes-io-live/dm-service/internal/audit"
	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/dm-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/dm-service/internal/repository"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

// MaxEmojiBytes bounds a reaction token.
const MaxEmojiBytes = 32

type reactionService struct {
	conversations ConversationService
	repo          repository.MessageRepository
	history       *HistoryCache
	producer      kafka.EventProducer
}

func NewReactionService(
	conversations ConversationService,
	repo repository.MessageRepository,
	history *HistoryCache,
	producer kafka.EventProducer,
) ReactionService {
	return &reactionService{
		conversations: conversations,
		repo:          repo,
		history:       history,
		producer:      producer,
	}
}

func (s *reactionService) SetReaction(ctx context.Context, messageID, userID, emoji string) (*domain.ReactionState, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, domain.ValidationError("emoji", "is required")
	}
	if len(emoji) > MaxEmojiBytes {
		return nil, domain.ValidationError("emoji", "is too long")
	}

	state, err := s.mutate(ctx, messageID, userID, func(current []domain.Reaction) []domain.Reaction {
		return domain.WithReaction(current, userID, emoji)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordReaction("set")
	audit.LogWithDetail(ctx, audit.ActionSetReaction, userID, emoji, "reaction set on "+messageID)
	return state, nil
}

func (s *reactionService) ClearReaction(ctx context.Context, messageID, userID string) (*domain.ReactionState, error) {
	state, err := s.mutate(ctx, messageID, userID, func(current []domain.Reaction) []domain.Reaction {
		return domain.WithoutReaction(current, userID)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordReaction("clear")
	audit.LogTarget(ctx, audit.ActionClearReaction, userID, messageID, "reaction cleared")
	return state, nil
}

func (s *reactionService) mutate(ctx context.Context, messageID, userID string, fn repository.ReactionMutation) (*domain.ReactionState, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, domain.ValidationError("messageId", "is required")
	}

	msg, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.conversations.RequireMember(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateReactions(ctx, messageID, fn)
	if err != nil {
		return nil, fmt.Errorf("failed to update reactions: %w", err)
	}

	s.history.Invalidate(ctx, updated.ConversationID)

	state := domain.NewReactionState(updated)
	if err := s.producer.ProduceReactionUpdated(ctx, userID, state); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldMessageID, messageID).Msg("failed to produce reaction event")
	}
	return state, nil
}
