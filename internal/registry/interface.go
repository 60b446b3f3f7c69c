package registry

import "context"

// Conn is a live connection handle owned by one identified user.
type Conn interface {
	ID() string
	// Send queues v for delivery and reports whether it was accepted.
	Send(v interface{}) bool
}

// Registry maps user ids to their live connection handles.
type Registry interface {
	// Add registers conn for userID and reports whether it is the user's first handle.
	Add(userID string, conn Conn) bool
	// Remove drops conn for userID and reports whether it was the user's last handle.
	Remove(userID string, conn Conn) bool
	Connections(userID string) []Conn
	IsOnline(userID string) bool
	OnlineUsers() []string
	Count() int
}

// PresenceMirror publishes this instance's online users to a shared store so
// other instances can answer presence lookups.
type PresenceMirror interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}
