package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the service and handler layers.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")

	// ErrSelfConversation is returned when both members of a pair are the same user.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
)

var (
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("message %w", ErrNotFound)
	ErrPostNotFound         = fmt.Errorf("post %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrPostAuthorNotFound   = fmt.Errorf("post author %w", ErrNotFound)

	ErrNotMember = fmt.Errorf("%w: not a member of the conversation", ErrForbidden)
)

// ValidationError wraps ErrValidation with the offending field.
func ValidationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}
