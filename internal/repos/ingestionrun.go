package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

type IngestionRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.IngestionRun) (*types.IngestionRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionRun, error)
	GetLatestByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) (*types.IngestionRun, error)

	// ClaimNextRunnable picks the oldest queued run, or a failed run below
	// the attempt cap past its retry delay, or a running run whose
	// heartbeat went stale, locks it with SKIP LOCKED, marks it running
	// and bumps attempts. Returns nil when nothing is runnable. This gives
	// the worker at-least-once delivery; exactly-once is not promised and
	// the pipeline's status guard absorbs duplicates.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.IngestionRun, error)

	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type ingestionRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestionRunRepo(db *gorm.DB, baseLog *logger.Logger) IngestionRunRepo {
	return &ingestionRunRepo{db: db, log: baseLog.With("repo", "IngestionRunRepo")}
}

func (r *ingestionRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.IngestionRun) (*types.IngestionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *ingestionRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.IngestionRun
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *ingestionRunRepo) GetLatestByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) (*types.IngestionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.IngestionRun
	err := transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *ingestionRunRepo) ClaimNextRunnable(
	ctx context.Context,
	tx *gorm.DB,
	maxAttempts int,
	retryDelay, staleRunning time.Duration,
) (*types.IngestionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var claimed *types.IngestionRun

	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var run types.IngestionRun

		q := txx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					OR (
						status = ?
						AND attempts < ?
						AND (last_error_at IS NULL OR last_error_at < ?)
					)
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, types.IngestionRunQueued, types.IngestionRunFailed, maxAttempts, retryCutoff, types.IngestionRunRunning, staleCutoff).
			Order("created_at ASC")

		qErr := q.First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&types.IngestionRun{}).
			Where("id = ?", run.ID).
			Updates(map[string]any{
				"status":       types.IngestionRunRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}

		// Reflect the claim on the returned row; the caller's attempt
		// accounting must see the post-increment value.
		run.Status = types.IngestionRunRunning
		run.Attempts++
		run.LockedAt = &now
		run.HeartbeatAt = &now
		run.UpdatedAt = now

		claimed = &run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *ingestionRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.IngestionRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *ingestionRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	now := time.Now()
	return r.UpdateFields(ctx, tx, id, map[string]any{"heartbeat_at": now})
}
