package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

type KnowledgeBaseRepo interface {
	Create(ctx context.Context, tx *gorm.DB, kb *types.KnowledgeBase, acls []*types.KBAccessEntry) (*types.KnowledgeBase, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeBase, error)
	GetAll(ctx context.Context, tx *gorm.DB) ([]*types.KnowledgeBase, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error

	// GetAuthorized returns the KBs readable by the principal: clearance
	// dominated, not archived, and owner or ACL-matched. The whole filter
	// is one SQL predicate so nothing unauthorized ever leaves the store.
	GetAuthorized(ctx context.Context, tx *gorm.DB, p types.Principal) ([]*types.KnowledgeBase, error)

	// ReplaceACLs swaps the KB's ACL set wholesale: delete then insert in
	// one transaction. Partial patches are not supported.
	ReplaceACLs(ctx context.Context, tx *gorm.DB, kbID uuid.UUID, entries []*types.KBAccessEntry) error
}

type knowledgeBaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeBaseRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeBaseRepo {
	return &knowledgeBaseRepo{db: db, log: baseLog.With("repo", "KnowledgeBaseRepo")}
}

func (r *knowledgeBaseRepo) Create(ctx context.Context, tx *gorm.DB, kb *types.KnowledgeBase, acls []*types.KBAccessEntry) (*types.KnowledgeBase, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Create(kb).Error; err != nil {
			return err
		}
		for _, entry := range acls {
			entry.KBID = kb.ID
		}
		if len(acls) > 0 {
			if err := txx.Create(&acls).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, tx, kb.ID)
}

func (r *knowledgeBaseRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.KnowledgeBase, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var kb types.KnowledgeBase
	err := transaction.WithContext(ctx).
		Preload("ACLs").
		Where("id = ?", id).
		First(&kb).Error
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func (r *knowledgeBaseRepo) GetAll(ctx context.Context, tx *gorm.DB) ([]*types.KnowledgeBase, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeBase
	if err := transaction.WithContext(ctx).
		Preload("ACLs").
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *knowledgeBaseRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.KnowledgeBase{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *knowledgeBaseRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("kb_id = ?", id).Delete(&types.KBAccessEntry{}).Error; err != nil {
			return err
		}
		if err := txx.Where("kb_id = ?", id).Delete(&types.DocumentChunk{}).Error; err != nil {
			return err
		}
		if err := txx.Where("kb_id = ?", id).Delete(&types.Document{}).Error; err != nil {
			return err
		}
		return txx.Where("id = ?", id).Delete(&types.KnowledgeBase{}).Error
	})
}

func (r *knowledgeBaseRepo) GetAuthorized(ctx context.Context, tx *gorm.DB, p types.Principal) ([]*types.KnowledgeBase, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.KnowledgeBase
	err := transaction.WithContext(ctx).
		Preload("ACLs").
		Where("base_clearance <= ? AND is_archived = ?", p.Clearance, false).
		Where(`
			owner_id = @pid
			OR EXISTS (
				SELECT 1 FROM kb_access_entry a
				WHERE a.kb_id = knowledge_base.id
				AND (
					(a.subject_type = 'USER' AND a.subject_id = @pid)
					OR (a.subject_type = 'ROLE' AND a.subject_id = @rid)
					OR (a.subject_type = 'DEPT' AND a.subject_id = @did)
				)
			)
		`, map[string]any{"pid": p.ID, "rid": p.RoleID, "did": p.DepartmentID}).
		Order("created_at DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *knowledgeBaseRepo) ReplaceACLs(ctx context.Context, tx *gorm.DB, kbID uuid.UUID, entries []*types.KBAccessEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("kb_id = ?", kbID).Delete(&types.KBAccessEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			entry.KBID = kbID
		}
		return txx.Create(&entries).Error
	})
}
