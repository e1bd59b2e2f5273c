package types

import (
	"time"

	"github.com/google/uuid"
)

type SubjectType string

const (
	SubjectUser       SubjectType = "USER"
	SubjectRole       SubjectType = "ROLE"
	SubjectDepartment SubjectType = "DEPT"
)

type Permission string

const (
	PermissionRead    Permission = "READ"
	PermissionWrite   Permission = "WRITE"
	PermissionManager Permission = "MANAGER"
)

// KBAccessEntry binds a knowledge base to a user, role, or department.
// Entries are replaced wholesale on update (delete then insert), never
// patched, so a KB's effective ACL is always exactly its current rows.
type KBAccessEntry struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	KBID        uuid.UUID   `gorm:"type:uuid;not null;index" json:"kb_id"`
	SubjectType SubjectType `gorm:"size:10;not null" json:"subject_type"`
	SubjectID   uuid.UUID   `gorm:"type:uuid;not null" json:"subject_id"`
	Permission  Permission  `gorm:"size:20;not null;default:'READ'" json:"permission"`
	CreatedAt   time.Time   `gorm:"not null" json:"created_at"`
}

func (KBAccessEntry) TableName() string { return "kb_access_entry" }
