package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DocumentStatus string

const (
	DocumentIndexing DocumentStatus = "INDEXING"
	DocumentReady    DocumentStatus = "READY"
	DocumentFailed   DocumentStatus = "FAILED"
)

// Document is the metadata record of one uploaded file. The raw bytes live
// in blob storage under StorageKey; searchable content lives in chunks.
// Status is owned by the ingestion pipeline: INDEXING -> READY | FAILED and
// nothing else.
type Document struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	KBID uuid.UUID `gorm:"type:uuid;not null;index" json:"kb_id"`

	Title      string `gorm:"size:255;not null" json:"title"`
	FileHash   string `gorm:"size:64;index" json:"file_hash,omitempty"`
	StorageKey string `gorm:"size:512;not null" json:"storage_key"`
	SizeBytes  int64  `gorm:"column:size_bytes" json:"size_bytes"`
	MimeType   string `gorm:"size:100" json:"mime_type"`

	// Per-document level; must be >= the owning KB's BaseClearance.
	Clearance Clearance `gorm:"type:smallint;not null;default:1" json:"clearance"`

	Status   DocumentStatus `gorm:"size:20;not null;default:'INDEXING'" json:"status"`
	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "document" }
