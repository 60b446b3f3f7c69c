package directory

import (
	"context"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

// UserDirectory resolves user records owned by the user service.
type UserDirectory interface {
	// GetUser returns domain.ErrUserNotFound when the id is unknown.
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// PostDirectory resolves post records owned by the post service.
type PostDirectory interface {
	// GetPost returns domain.ErrPostNotFound when the id is unknown.
	GetPost(ctx context.Context, postID string) (*domain.Post, error)
}
