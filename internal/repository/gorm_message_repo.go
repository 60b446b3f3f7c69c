package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/database"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-backed message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Append locks the conversation row so appends to one conversation are
// serialized, then inserts the message after the current tail.
func (r *GormMessageRepository) Append(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv domain.ConversationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", m.ConversationID).
			Take(&conv).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrConversationNotFound
			}
			return err
		}

		var tail domain.MessageModel
		err = tx.Select("created_at").
			Where("conversation_id = ?", m.ConversationID).
			Order("created_at DESC").
			Limit(1).
			Take(&tail).Error
		switch {
		case err == nil:
			m.CreatedAt = nextCreatedAt(m.CreatedAt, tail.CreatedAt)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := tx.Create(domain.MessageToModel(m)).Error; err != nil {
			return err
		}

		return tx.Model(&domain.ConversationModel{}).
			Where("id = ?", m.ConversationID).
			Update("updated_at", m.CreatedAt).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model domain.MessageModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Message, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToDomain())
	}
	return out, nil
}

// UpdateReactions rewrites the reaction list under a row lock and a version
// check. Databases without row locks fall back to the version check alone.
func (r *GormMessageRepository) UpdateReactions(ctx context.Context, messageID string, mutate ReactionMutation) (*domain.Message, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var updated *domain.Message
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var model domain.MessageModel
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", messageID).
				Take(&model).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrMessageNotFound
				}
				return err
			}

			next := database.NewJSON(mutate(model.Reactions.Data))
			result := tx.Model(&domain.MessageModel{}).
				Where("id = ? AND version = ?", messageID, model.Version).
				Updates(map[string]interface{}{
					"reactions": next,
					"version":   model.Version + 1,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrConcurrentUpdate
			}

			model.Reactions = next
			model.Version++
			updated = model.ToDomain()
			return nil
		})
		if errors.Is(err, ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, ErrConcurrentUpdate
}

var _ MessageRepository = (*GormMessageRepository)(nil)
