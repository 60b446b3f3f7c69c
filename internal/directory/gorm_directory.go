package directory

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/database"
)

// userRecord maps the columns read from the users table.
type userRecord struct {
	ID             string
	Username       string
	ProfilePicture string
}

// postRecord maps the columns read from the posts table.
type postRecord struct {
	ID          string
	UserID      string
	Description string
	Likes       database.StringArray
	Comments    database.StringArray
	CreatedAt   time.Time
}

// GormDirectory reads users and posts from tables owned by other services.
// It never writes to them.
type GormDirectory struct {
	db         *gorm.DB
	usersTable string
	postsTable string
}

func NewGormDirectory(db *gorm.DB, usersTable, postsTable string) *GormDirectory {
	return &GormDirectory{db: db, usersTable: usersTable, postsTable: postsTable}
}

func (d *GormDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var rec userRecord
	err := d.db.WithContext(ctx).
		Table(d.usersTable).
		Select("id", "username", "profile_picture").
		Where("id = ?", userID).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &domain.User{ID: rec.ID, Username: rec.Username, ProfilePicture: rec.ProfilePicture}, nil
}

func (d *GormDirectory) GetPost(ctx context.Context, postID string) (*domain.Post, error) {
	var rec postRecord
	err := d.db.WithContext(ctx).
		Table(d.postsTable).
		Select("id", "user_id", "description", "likes", "comments", "created_at").
		Where("id = ?", postID).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPostNotFound
		}
		return nil, err
	}
	return &domain.Post{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Description: rec.Description,
		Likes:       nonNil(rec.Likes),
		Comments:    nonNil(rec.Comments),
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func nonNil(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}

var (
	_ UserDirectory = (*GormDirectory)(nil)
	_ PostDirectory = (*GormDirectory)(nil)
)
