package relay

import (
	"context"
	"encoding/json"
)

// DeliverFunc pushes a frame to the local connections of userID, skipping
// the connection named exceptConn.
type DeliverFunc func(userID, exceptConn string, frame json.RawMessage)

// Relay carries frames to users connected to other instances.
type Relay interface {
	Publish(ctx context.Context, userID, exceptConn string, frame interface{}) error
	// Start subscribes and hands remote frames to deliver until ctx is done.
	Start(ctx context.Context, deliver DeliverFunc) error
	Close() error
}
