package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type IngestionRunStatus string

const (
	IngestionRunQueued  IngestionRunStatus = "queued"
	IngestionRunRunning IngestionRunStatus = "running"
	IngestionRunDone    IngestionRunStatus = "done"
	IngestionRunFailed  IngestionRunStatus = "failed"
)

// IngestionRun is one scheduled unit of background work: process a single
// document end to end. Rows double as the work queue; the worker claims the
// oldest runnable row under FOR UPDATE SKIP LOCKED. Delivery is
// at-least-once, made safe by the document status guard in the pipeline.
type IngestionRun struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`

	Status   IngestionRunStatus `gorm:"size:20;not null;default:'queued'" json:"status"`
	Stage    string             `gorm:"size:40" json:"stage"`
	Attempts int                `gorm:"not null;default:0" json:"attempts"`
	Error    string             `gorm:"type:text" json:"error,omitempty"`

	Payload datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`

	LockedAt    *time.Time `json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (IngestionRun) TableName() string { return "ingestion_run" }
