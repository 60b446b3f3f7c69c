package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

// isUniqueViolation reports whether err is a unique-constraint violation.
// GORM v1.25+ wraps these as gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// GormConversationRepository implements ConversationRepository using GORM.
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository creates a new GORM-backed conversation repository.
func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db}
}

// Create inserts a conversation; the unique pair_key index rejects duplicates.
func (r *GormConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	model := domain.ConversationToModel(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConversationExists
		}
		return err
	}
	c.CreatedAt = model.CreatedAt
	c.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var model domain.ConversationModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormConversationRepository) GetByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	var model domain.ConversationModel
	if err := r.db.WithContext(ctx).Where("pair_key = ?", pairKey).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListByMember returns the user's conversations, most recently active first.
func (r *GormConversationRepository) ListByMember(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	var models []domain.ConversationModel
	err := r.db.WithContext(ctx).
		Where("member_a = ? OR member_b = ?", userID, userID).
		Order("updated_at DESC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Conversation, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToDomain())
	}
	return out, nil
}

var _ ConversationRepository = (*GormConversationRepository)(nil)
