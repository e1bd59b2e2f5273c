package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ThoughtStep is one named stage of the answer pipeline, recorded even when
// the stage was a no-op so the chain is auditable end to end.
type ThoughtStep struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Provenance ties one claim of a generated answer back to the retrieved
// chunk it came from. SecurityLevel is frozen at answer time; it is never
// recomputed when clearances later change.
type Provenance struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	SourceType    string    `json:"source_type"`
	SourceName    string    `json:"source_name"`
	Snippet       string    `json:"snippet"`
	Score         float64   `json:"score"`
	SecurityLevel Clearance `json:"security_level"`
}

// Message is one turn in a conversation, append-only. Assistant messages
// optionally carry the thought chain and citation list as JSONB.
type Message struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID   `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Role           MessageRole `gorm:"size:10;not null" json:"role"`
	Content        string      `gorm:"type:text;not null" json:"content"`

	ThoughtChain datatypes.JSON `gorm:"type:jsonb" json:"thought_chain,omitempty"`
	Citations    datatypes.JSON `gorm:"type:jsonb" json:"citations,omitempty"`

	Confidence    float64   `gorm:"column:confidence" json:"confidence"`
	SecurityBadge Clearance `gorm:"type:smallint;column:security_badge;default:0" json:"security_badge"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Message) TableName() string { return "message" }
