package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/registry"
)

type ConversationService interface {
	// FindOrCreate returns the conversation of the unordered pair, creating it
	// on first use. actorID must be one of the pair.
	FindOrCreate(ctx context.Context, actorID, userA, userB string) (*domain.Conversation, error)
	// Find looks the pair up without creating it.
	Find(ctx context.Context, actorID, userA, userB string) (*domain.Conversation, error)
	List(ctx context.Context, userID string) ([]*domain.Conversation, error)
	Get(ctx context.Context, conversationID string) (*domain.Conversation, error)
	// RequireMember returns the conversation if userID belongs to it, ErrNotMember otherwise.
	RequireMember(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
}

type MessageService interface {
	Append(ctx context.Context, conversationID, sender, text string) (*domain.Message, error)
	AppendSharedPost(ctx context.Context, conversationID, sender, postID string) (*domain.Message, error)
	List(ctx context.Context, conversationID, actorID string) ([]*domain.Message, error)
	Get(ctx context.Context, messageID string) (*domain.Message, error)
}

type ReactionService interface {
	SetReaction(ctx context.Context, messageID, userID, emoji string) (*domain.ReactionState, error)
	ClearReaction(ctx context.Context, messageID, userID string) (*domain.ReactionState, error)
}

// Connection is a live event-channel handle with its lifecycle state.
type Connection interface {
	registry.Conn
	Session() *domain.Session
}

type DeliveryService interface {
	HandleConnect(ctx context.Context, conn Connection)
	HandleAddUser(ctx context.Context, conn Connection, ev *domain.AddUserEvent) error
	HandleSendMessage(ctx context.Context, conn Connection, ev *domain.SendMessageEvent) error
	HandleTyping(ctx context.Context, conn Connection, ev *domain.TypingEvent) error
	HandleDisconnect(ctx context.Context, conn Connection) error

	// PublishMessage pushes receiveMessage to the recipient and to the sender's
	// handles other than exceptConn. A message id is delivered at most once.
	PublishMessage(ctx context.Context, msg *domain.Message, exceptConn string) error
	// PublishReaction echoes a reaction change to both members.
	PublishReaction(ctx context.Context, actorID string, state *domain.ReactionState) error
	IsOnline(ctx context.Context, userID string) (bool, error)

	Start(ctx context.Context) error
	Stop() error
}
