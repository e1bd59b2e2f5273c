package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

type DocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, doc *types.Document) (*types.Document, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Document, error)

	// GetByKB lists documents of one KB the given clearance may see. The
	// per-document clearance check runs in SQL even though the KB already
	// passed the access filter: documents may sit above the KB baseline.
	GetByKB(ctx context.Context, tx *gorm.DB, kbID uuid.UUID, maxClearance types.Clearance) ([]*types.Document, error)

	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status types.DocumentStatus) error

	// CompareAndSetStatus transitions the status only when the current value
	// matches expect; reports whether the swap happened. This is the
	// idempotent re-entry guard for duplicate ingestion runs.
	CompareAndSetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, expect, next types.DocumentStatus) (bool, error)

	// Delete soft-deletes the document and hard-deletes its chunks.
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(ctx context.Context, tx *gorm.DB, doc *types.Document) (*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var doc types.Document
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Document
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) GetByKB(ctx context.Context, tx *gorm.DB, kbID uuid.UUID, maxClearance types.Clearance) ([]*types.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Document
	if err := transaction.WithContext(ctx).
		Where("kb_id = ? AND clearance <= ?", kbID, maxClearance).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status types.DocumentStatus) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *documentRepo) CompareAndSetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, expect, next types.DocumentStatus) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ? AND status = ?", id, expect).
		Update("status", next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *documentRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("document_id = ?", id).Delete(&types.DocumentChunk{}).Error; err != nil {
			return err
		}
		return txx.Where("id = ?", id).Delete(&types.Document{}).Error
	})
}
