package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-live/dm-service/internal/audit"
	"github.com/weiawesome/wes-io-live/dm-service/internal/directory"
	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/dm-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/dm-service/internal/repository"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

const (
	MaxTextLength = 4000

	kindText       = "text"
	kindSharedPost = "shared_post"
)

type messageService struct {
	conversations ConversationService
	repo          repository.MessageRepository
	posts         directory.PostDirectory
	users         directory.UserDirectory
	history       *HistoryCache
	producer      kafka.EventProducer
	now           func() time.Time
}

func NewMessageService(
	conversations ConversationService,
	repo repository.MessageRepository,
	posts directory.PostDirectory,
	users directory.UserDirectory,
	history *HistoryCache,
	producer kafka.EventProducer,
) MessageService {
	return &messageService{
		conversations: conversations,
		repo:          repo,
		posts:         posts,
		users:         users,
		history:       history,
		producer:      producer,
		now:           time.Now,
	}
}

func (s *messageService) Append(ctx context.Context, conversationID, sender, text string) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ValidationError("text", "is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return nil, domain.ValidationError("text", fmt.Sprintf("must be at most %d characters", MaxTextLength))
	}
	if _, err := s.requireSender(ctx, conversationID, sender); err != nil {
		return nil, err
	}

	msg := s.newMessage(conversationID, sender, text)
	stored, err := s.store(ctx, msg, kindText)
	if err != nil {
		return nil, err
	}

	audit.LogTarget(ctx, audit.ActionSendMessage, sender, stored.ID, "message appended")
	return stored, nil
}

func (s *messageService) AppendSharedPost(ctx context.Context, conversationID, sender, postID string) (*domain.Message, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, domain.ValidationError("postId", "is required")
	}
	if _, err := s.requireSender(ctx, conversationID, sender); err != nil {
		return nil, err
	}

	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	author, err := s.users.GetUser(ctx, post.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrPostAuthorNotFound
		}
		return nil, err
	}

	msg := s.newMessage(conversationID, sender, domain.SharedPostText)
	msg.IsSharedPost = true
	msg.SharedPost = &domain.SharedPost{
		PostID:             post.ID,
		Description:        post.Description,
		UserID:             author.ID,
		Username:           author.Username,
		UserProfilePicture: author.ProfilePicture,
		CreatedAt:          post.CreatedAt,
		Likes:              append([]string{}, post.Likes...),
		Comments:           append([]string{}, post.Comments...),
	}

	stored, err := s.store(ctx, msg, kindSharedPost)
	if err != nil {
		return nil, err
	}

	audit.LogWithDetail(ctx, audit.ActionSharePost, sender, post.ID, "post shared")
	return stored, nil
}

func (s *messageService) List(ctx context.Context, conversationID, actorID string) ([]*domain.Message, error) {
	if _, err := s.conversations.RequireMember(ctx, conversationID, actorID); err != nil {
		return nil, err
	}

	return s.history.Load(ctx, conversationID, func() ([]*domain.Message, error) {
		messages, err := s.repo.ListByConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		return messages, nil
	})
}

func (s *messageService) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, domain.ValidationError("messageId", "is required")
	}
	return s.repo.GetByID(ctx, messageID)
}

func (s *messageService) requireSender(ctx context.Context, conversationID, sender string) (*domain.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, domain.ValidationError("conversationId", "is required")
	}
	if strings.TrimSpace(sender) == "" {
		return nil, domain.ValidationError("sender", "is required")
	}
	return s.conversations.RequireMember(ctx, conversationID, sender)
}

func (s *messageService) newMessage(conversationID, sender, text string) *domain.Message {
	return &domain.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		Reactions:      []domain.Reaction{},
		CreatedAt:      s.now().UTC().Truncate(time.Microsecond),
	}
}

func (s *messageService) store(ctx context.Context, msg *domain.Message, kind string) (*domain.Message, error) {
	start := time.Now()
	stored, err := s.repo.Append(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	metrics.RecordAppend(kind, time.Since(start).Seconds())

	s.history.Invalidate(ctx, stored.ConversationID)

	if err := s.producer.ProduceMessageCreated(ctx, stored); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldMessageID, stored.ID).Msg("failed to produce message event")
	}
	return stored, nil
}
