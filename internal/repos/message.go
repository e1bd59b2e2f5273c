package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

// MessageRepo is the append-only conversation store boundary. There is no
// update or in-place edit: a turn, once written, is history.
type MessageRepo interface {
	Append(ctx context.Context, tx *gorm.DB, msg *types.Message) (*types.Message, error)
	GetByConversationID(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]*types.Message, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Message, error)
	CreateFeedback(ctx context.Context, tx *gorm.DB, fb *types.Feedback) (*types.Feedback, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) Append(ctx context.Context, tx *gorm.DB, msg *types.Message) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Create(msg).Error; err != nil {
			return err
		}
		return txx.Model(&types.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *messageRepo) GetByConversationID(ctx context.Context, tx *gorm.DB, conversationID uuid.UUID) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Message
	if err := transaction.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *messageRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var msg types.Message
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) CreateFeedback(ctx context.Context, tx *gorm.DB, fb *types.Feedback) (*types.Feedback, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(fb).Error; err != nil {
		return nil, err
	}
	return fb, nil
}
