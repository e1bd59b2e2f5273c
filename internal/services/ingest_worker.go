package services

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelworks/aegiskb-backend/internal/ingestion"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/repos"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

// IngestWorker drains the ingestion run queue. Claims go through
// ClaimNextRunnable so multiple worker processes can share one database
// without double-processing; delivery is at-least-once and the pipeline's
// status guard absorbs the duplicates.
type IngestWorker interface {
	Start(ctx context.Context)
}

type ingestWorker struct {
	log      *logger.Logger
	runs     repos.IngestionRunRepo
	docs     repos.DocumentRepo
	pipeline *ingestion.Pipeline

	pollInterval time.Duration
	maxAttempts  int
	retryDelay   time.Duration
	staleRunning time.Duration
}

func NewIngestWorker(runs repos.IngestionRunRepo, docs repos.DocumentRepo, pipeline *ingestion.Pipeline, baseLog *logger.Logger) IngestWorker {
	log := baseLog.With("service", "IngestWorker")
	return &ingestWorker{
		log:          log,
		runs:         runs,
		docs:         docs,
		pipeline:     pipeline,
		pollInterval: time.Duration(utils.GetEnvAsInt("INGEST_POLL_INTERVAL_MS", 1000, log)) * time.Millisecond,
		maxAttempts:  utils.GetEnvAsInt("INGEST_MAX_ATTEMPTS", 5, log),
		retryDelay:   time.Duration(utils.GetEnvAsInt("INGEST_RETRY_DELAY_SECONDS", 30, log)) * time.Second,
		staleRunning: time.Duration(utils.GetEnvAsInt("INGEST_STALE_RUNNING_SECONDS", 120, log)) * time.Second,
	}
}

func (w *ingestWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		w.log.Info("Ingestion worker started", "poll_interval", w.pollInterval.String(), "max_attempts", w.maxAttempts)
		for {
			select {
			case <-ctx.Done():
				w.log.Info("Ingestion worker stopped")
				return
			case <-ticker.C:
				run, err := w.runs.ClaimNextRunnable(ctx, nil, w.maxAttempts, w.retryDelay, w.staleRunning)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if run == nil {
					continue
				}
				w.processRun(ctx, run)
			}
		}
	}()
}

func (w *ingestWorker) processRun(ctx context.Context, run *types.IngestionRun) {
	log := w.log.With("run_id", run.ID, "document_id", run.DocumentID, "attempt", run.Attempts)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(heartbeatCtx, run)

	result, err := w.pipeline.Process(ctx, run.DocumentID)
	if err != nil {
		w.failRun(ctx, run, err)
		return
	}

	now := time.Now()
	updates := map[string]any{
		"status":     types.IngestionRunDone,
		"stage":      "done",
		"error":      "",
		"locked_at":  nil,
		"updated_at": now,
	}
	if uerr := w.runs.UpdateFields(ctx, nil, run.ID, updates); uerr != nil {
		log.Warn("Failed to mark run done", "error", uerr)
		return
	}
	log.Info("Ingestion run completed", "chunks", result.Chunks, "degraded", result.Degraded)
}

// failRun records the failure. Transient errors (storage or database
// outages) leave the run claimable until the attempt budget is spent.
// Errors the document itself causes are terminal: no retry can parse an
// unsupported or empty file, so the document flips FAILED immediately and
// only an explicit re-ingest tries again.
func (w *ingestWorker) failRun(ctx context.Context, run *types.IngestionRun, cause error) {
	log := w.log.With("run_id", run.ID, "document_id", run.DocumentID)
	now := time.Now()

	terminal := terminalIngestError(cause)
	updates := map[string]any{
		"status":        types.IngestionRunFailed,
		"error":         cause.Error(),
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	}
	if terminal {
		// Spend the remaining budget so the claim query skips the run.
		updates["attempts"] = w.maxAttempts
	}
	if uerr := w.runs.UpdateFields(ctx, nil, run.ID, updates); uerr != nil {
		log.Warn("Failed to mark run failed", "error", uerr)
	}

	if terminal || run.Attempts >= w.maxAttempts {
		if derr := w.docs.UpdateStatus(ctx, nil, run.DocumentID, types.DocumentFailed); derr != nil {
			log.Warn("Failed to mark document FAILED", "error", derr)
		}
		log.Error("Ingestion failed, document marked FAILED",
			"attempts", run.Attempts, "terminal", terminal, "error", cause)
		return
	}
	log.Warn("Ingestion run failed, will retry", "attempts", run.Attempts, "error", cause)
}

// terminalIngestError reports failures no redelivery can fix.
func terminalIngestError(err error) bool {
	var unsupported *ingestion.UnsupportedFormatError
	return errors.Is(err, ingestion.ErrEmptyContent) || errors.As(err, &unsupported)
}

func (w *ingestWorker) heartbeat(ctx context.Context, run *types.IngestionRun) {
	ticker := time.NewTicker(w.staleRunning / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runs.Heartbeat(ctx, nil, run.ID); err != nil {
				w.log.Warn("Heartbeat failed", "run_id", run.ID, "error", err)
			}
		}
	}
}
