package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// DocumentChunk is the atomic unit of retrieval: one fixed-width window of
// a document's text plus its embedding. KBID is denormalized from the
// owning document so the authorized-set filter stays a single predicate on
// this table. Chunks are immutable; re-ingestion replaces the whole set.
type DocumentChunk struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	KBID       uuid.UUID `gorm:"type:uuid;not null;index" json:"kb_id"`

	Ordinal int    `gorm:"column:ordinal;not null" json:"ordinal"`
	Text    string `gorm:"type:text;not null" json:"text"`

	Embedding pgvector.Vector `gorm:"type:vector(1536)" json:"-"`

	// Set when the embedding came from the deterministic fallback rather
	// than the live embedder.
	EmbeddingDegraded bool `gorm:"not null;default:false" json:"embedding_degraded"`

	PageHint int `gorm:"column:page_hint" json:"page_hint"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunk" }
