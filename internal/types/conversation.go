package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Conversation owns an ordered, append-only list of messages. BoundKBIDs is
// the KB scope snapshot taken at creation; turns retrieve only inside the
// intersection of this set and the principal's authorized set.
type Conversation struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Title  string    `gorm:"size:200" json:"title"`

	BoundKBIDs     datatypes.JSON `gorm:"type:jsonb" json:"bound_kb_ids,omitempty"`
	ConfigSnapshot datatypes.JSON `gorm:"type:jsonb" json:"config_snapshot,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversation" }
