package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming conventions for direct-message delivery.
const (
	// Per-recipient delivery channel: <prefix>:user:<userId>
	ChannelUser = "%s:user:%s"
)

// Event types relayed between instances.
const (
	EventDeliver = "deliver"
)

// UserChannel returns the delivery channel of one user.
func UserChannel(prefix, userID string) string {
	return fmt.Sprintf(ChannelUser, prefix, userID)
}

// UserChannelPattern matches every user delivery channel under prefix.
func UserChannelPattern(prefix string) string {
	return fmt.Sprintf(ChannelUser, prefix, "*")
}

// UserIDFromChannel extracts the user id from a delivery channel name.
func UserIDFromChannel(prefix, channel string) (string, bool) {
	head := prefix + ":user:"
	if !strings.HasPrefix(channel, head) || len(channel) == len(head) {
		return "", false
	}
	return strings.TrimPrefix(channel, head), true
}
