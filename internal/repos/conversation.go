package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

type ConversationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, conv *types.Conversation) (*types.Conversation, error)
	GetByIDForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*types.Conversation, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, offset, limit int) ([]*types.Conversation, error)
	UpdateTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) error
	DeleteForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) error
	Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: baseLog.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(ctx context.Context, tx *gorm.DB, conv *types.Conversation) (*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *conversationRepo) GetByIDForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var conv types.Conversation
	if err := transaction.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, offset, limit int) ([]*types.Conversation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var results []*types.Conversation
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *conversationRepo) UpdateTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"title": title, "updated_at": time.Now()}).Error
}

func (r *conversationRepo) DeleteForUser(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Where("id = ? AND user_id = ?", id, userID).Delete(&types.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return txx.Where("conversation_id = ?", id).Delete(&types.Message{}).Error
	})
}

func (r *conversationRepo) Touch(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}
