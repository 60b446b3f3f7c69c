package domain

import "time"

// CreateConversationRequest represents a find-or-create request.
type CreateConversationRequest struct {
	SenderID   string `json:"senderId" binding:"required"`
	ReceiverID string `json:"receiverId" binding:"required"`
}

// SendMessageRequest represents a text message append.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	Sender         string `json:"sender" binding:"required"`
	Text           string `json:"text"`
}

// SharePostRequest represents sharing a post into a conversation.
type SharePostRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	PostID         string `json:"postId" binding:"required"`
	ReceiverID     string `json:"receiverId"`
}

// ReactionRequest represents a reaction update.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// PresenceResponse answers whether a user currently has a live connection.
type PresenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// User is the external user record, read only.
type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Post is the external post record, read only.
type Post struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Description string    `json:"description"`
	Likes       []string  `json:"likes"`
	Comments    []string  `json:"comments"`
	CreatedAt   time.Time `json:"createdAt"`
}
