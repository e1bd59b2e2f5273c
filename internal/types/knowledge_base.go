package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// KnowledgeBase partitions documents into a clearance-gated collection and
// is the attachment point for access control entries.
type KnowledgeBase struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`

	// Baseline level for the whole collection. A principal below this level
	// never sees the KB regardless of ACL membership.
	BaseClearance Clearance `gorm:"type:smallint;not null;default:1" json:"base_clearance"`

	OwnerID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	IsArchived bool           `gorm:"not null;default:false" json:"is_archived"`
	Settings   datatypes.JSON `gorm:"type:jsonb" json:"settings,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	ACLs []KBAccessEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:KBID;references:ID" json:"acls,omitempty"`
}

func (KnowledgeBase) TableName() string { return "knowledge_base" }
