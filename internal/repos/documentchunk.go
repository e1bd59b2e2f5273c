package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

type DocumentChunkRepo interface {
	// ReplaceForDocument deletes every existing chunk of the document and
	// writes the new batch in the same transaction. Re-ingestion is
	// chunk-set replacement, never append, so a crashed earlier run can
	// never leave stale chunks behind the new set.
	ReplaceForDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID, chunks []*types.DocumentChunk) error

	GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.DocumentChunk, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.DocumentChunk, error)
	CountByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) (int64, error)
	DeleteByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error
}

type documentChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentChunkRepo(db *gorm.DB, baseLog *logger.Logger) DocumentChunkRepo {
	return &documentChunkRepo{db: db, log: baseLog.With("repo", "DocumentChunkRepo")}
}

func (r *documentChunkRepo) ReplaceForDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID, chunks []*types.DocumentChunk) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	// Keep batches small because Text is large.
	const batchSize = 100

	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("document_id = ?", documentID).Delete(&types.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return txx.CreateInBatches(chunks, batchSize).Error
	})
}

func (r *documentChunkRepo) GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.DocumentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.DocumentChunk
	if err := transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("ordinal ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentChunkRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.DocumentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.DocumentChunk
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentChunkRepo) CountByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.DocumentChunk{}).
		Where("document_id = ?", documentID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *documentChunkRepo) DeleteByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&types.DocumentChunk{}).Error
}
