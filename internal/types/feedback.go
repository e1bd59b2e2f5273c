package types

import (
	"time"

	"github.com/google/uuid"
)

// Feedback records a reader's verdict on one assistant message.
// Score: 1 helpful, 0 neutral, -1 wrong or unhelpful.
type Feedback struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID  uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`
	Score      int16     `gorm:"type:smallint;not null" json:"score"`
	Comment    string    `gorm:"type:text" json:"comment,omitempty"`
	IsReviewed bool      `gorm:"not null;default:false" json:"is_reviewed"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (Feedback) TableName() string { return "feedback" }
