package domain

import (
	"time"

	"github.com/weiawesome/wes-io-live/dm-service/pkg/database"
)

// SharedPostText is the placeholder text carried by shared-post messages.
const SharedPostText = "shared a post"

// Reaction is one user's emoji on a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// SharedPost is an immutable copy of a post taken when it was shared.
type SharedPost struct {
	PostID             string    `json:"postId"`
	Description        string    `json:"description"`
	UserID             string    `json:"userId"`
	Username           string    `json:"username"`
	UserProfilePicture string    `json:"userProfilePicture,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	Likes              []string  `json:"likes"`
	Comments           []string  `json:"comments"`
}

// Message is one entry of a conversation's append-only log.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Sender         string      `json:"sender"`
	Text           string      `json:"text"`
	Reactions      []Reaction  `json:"reactions"`
	IsSharedPost   bool        `json:"isSharedPost"`
	SharedPost     *SharedPost `json:"sharedPost,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Before reports whether m sorts before other in conversation order.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID             string                     `gorm:"type:varchar(36);primaryKey"`
	ConversationID string                     `gorm:"type:varchar(36);not null;index:idx_dm_messages_order,priority:1"`
	Sender         string                     `gorm:"type:varchar(64);not null"`
	Text           string                     `gorm:"type:text;not null"`
	Reactions      database.JSON[[]Reaction]  `gorm:"type:text"`
	IsSharedPost   bool                       `gorm:"not null;default:false"`
	SharedPost     database.JSON[*SharedPost] `gorm:"type:text"`
	Version        int64                      `gorm:"not null;default:0"`
	CreatedAt      time.Time                  `gorm:"not null;index:idx_dm_messages_order,priority:2"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "dm_messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	reactions := m.Reactions.Data
	if reactions == nil {
		reactions = []Reaction{}
	}
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		Reactions:      reactions,
		IsSharedPost:   m.IsSharedPost,
		SharedPost:     m.SharedPost.Data,
		CreatedAt:      m.CreatedAt,
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(m *Message) *MessageModel {
	return &MessageModel{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		Reactions:      database.NewJSON(m.Reactions),
		IsSharedPost:   m.IsSharedPost,
		SharedPost:     database.NewJSON(m.SharedPost),
		CreatedAt:      m.CreatedAt,
	}
}
