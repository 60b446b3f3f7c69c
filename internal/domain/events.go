package domain

// Event types from client.
const (
	EventAddUser     = "addUser"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventPing        = "ping"
)

// Event types to client.
const (
	EventIdentified     = "identified"
	EventReceiveMessage = "receiveMessage"
	EventStopTyping     = "stopTyping"
	EventReaction       = "reaction"
	EventError          = "error"
	EventPong           = "pong"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeNotIdentified = "NOT_IDENTIFIED"
)

// BaseEvent is the envelope shared by every frame.
type BaseEvent struct {
	Type string `json:"type"`
}

// Client -> Server events

type AddUserEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

type SendMessageEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
	MessageID      string `json:"messageId,omitempty"`
	Text           string `json:"text,omitempty"`
}

type TypingEvent struct {
	Type           string `json:"type"`
	SenderName     string `json:"senderName"`
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId,omitempty"`
}

// Server -> Client events

type IdentifiedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type ReceiveMessageEvent struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiverId"`
	*Message
}

type TypingOut struct {
	Type           string `json:"type"`
	SenderName     string `json:"senderName"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	ExpiresInMs    int64  `json:"expiresInMs"`
}

type StopTypingOut struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type ReactionOut struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	*ReactionState
}

type PongEvent struct {
	Type string `json:"type"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{
		Type:    EventError,
		Code:    code,
		Message: message,
	}
}

func NewReceiveMessageEvent(m *Message, receiverID string) *ReceiveMessageEvent {
	return &ReceiveMessageEvent{
		Type:       EventReceiveMessage,
		ReceiverID: receiverID,
		Message:    m,
	}
}
