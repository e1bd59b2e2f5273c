package ingestion

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kestrelworks/aegiskb-backend/internal/clients/blob"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/repos"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
	"github.com/kestrelworks/aegiskb-backend/internal/vectorindex"
)

// EmbedResult is one chunk's vector plus whether it came from a fallback
// rather than the live embedding backend.
type EmbedResult struct {
	Vector   []float32
	Degraded bool
}

// Embedder is the embedding capability the pipeline consumes.
type Embedder interface {
	EmbedChunks(ctx context.Context, texts []string) ([]EmbedResult, error)
}

// Result summarizes one completed pipeline run.
type Result struct {
	Chunks   int
	Degraded int
}

// Pipeline drives one document from raw bytes to searchable chunks:
// parse, chunk, embed, replace the chunk set, flip status. Runs are
// idempotent: the status guard skips documents that already left
// INDEXING, and chunk replacement means a crashed half-finished run
// leaves no duplicates behind after the retry.
type Pipeline struct {
	log      *logger.Logger
	docs     repos.DocumentRepo
	chunks   repos.DocumentChunkRepo
	blobs    blob.Store
	parsers  *ParserRegistry
	embedder Embedder
	index    vectorindex.Index

	chunkSize    int
	chunkOverlap int
	embedGroup   int
	embedSem     *semaphore.Weighted
}

func NewPipeline(
	docs repos.DocumentRepo,
	chunks repos.DocumentChunkRepo,
	blobs blob.Store,
	parsers *ParserRegistry,
	embedder Embedder,
	index vectorindex.Index,
	baseLog *logger.Logger,
) (*Pipeline, error) {
	size := utils.GetEnvAsInt("CHUNK_SIZE", 1200, baseLog)
	overlap := utils.GetEnvAsInt("CHUNK_OVERLAP", 200, baseLog)
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrBadChunkConfig
	}
	concurrency := utils.GetEnvAsInt("EMBED_CONCURRENCY", 4, baseLog)
	if concurrency < 1 {
		concurrency = 1
	}

	return &Pipeline{
		log:          baseLog.With("service", "IngestionPipeline"),
		docs:         docs,
		chunks:       chunks,
		blobs:        blobs,
		parsers:      parsers,
		embedder:     embedder,
		index:        index,
		chunkSize:    size,
		chunkOverlap: overlap,
		embedGroup:   utils.GetEnvAsInt("EMBED_GROUP_SIZE", 32, baseLog),
		embedSem:     semaphore.NewWeighted(int64(concurrency)),
	}, nil
}

// Process runs the pipeline for one document. The caller (worker) owns
// the FAILED transition; Process only ever moves INDEXING -> READY.
func (p *Pipeline) Process(ctx context.Context, documentID uuid.UUID) (Result, error) {
	log := p.log.With("document_id", documentID)

	doc, err := p.docs.GetByID(ctx, nil, documentID)
	if err != nil {
		return Result{}, fmt.Errorf("load document: %w", err)
	}
	if doc.Status != types.DocumentIndexing {
		// Already processed by an earlier delivery of the same run.
		log.Info("Skipping document not in INDEXING", "status", doc.Status)
		return Result{}, nil
	}

	rc, err := p.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return Result{}, fmt.Errorf("fetch raw bytes: %w", err)
	}
	text, err := p.parsers.ParseFile(doc.Title, rc)
	_ = rc.Close()
	if err != nil {
		return Result{}, fmt.Errorf("parse: %w", err)
	}

	windows, err := Split(text, p.chunkSize, p.chunkOverlap)
	if err != nil {
		return Result{}, fmt.Errorf("chunk: %w", err)
	}
	if len(windows) == 0 {
		return Result{}, ErrEmptyContent
	}

	embedded, err := p.embedAll(ctx, windows)
	if err != nil {
		return Result{}, fmt.Errorf("embed: %w", err)
	}

	rows := make([]*types.DocumentChunk, len(windows))
	degraded := 0
	for i, w := range windows {
		if embedded[i].Degraded {
			degraded++
		}
		rows[i] = &types.DocumentChunk{
			ID:                uuid.New(),
			DocumentID:        doc.ID,
			KBID:              doc.KBID,
			Ordinal:           w.Ordinal,
			Text:              w.Text,
			Embedding:         pgvector.NewVector(embedded[i].Vector),
			EmbeddingDegraded: embedded[i].Degraded,
		}
	}

	if err := p.chunks.ReplaceForDocument(ctx, nil, doc.ID, rows); err != nil {
		return Result{}, fmt.Errorf("replace chunks: %w", err)
	}
	if err := p.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return Result{}, fmt.Errorf("clear index: %w", err)
	}
	if err := p.index.Upsert(ctx, rows); err != nil {
		return Result{}, fmt.Errorf("index chunks: %w", err)
	}

	swapped, err := p.docs.CompareAndSetStatus(ctx, nil, doc.ID, types.DocumentIndexing, types.DocumentReady)
	if err != nil {
		return Result{}, fmt.Errorf("finalize status: %w", err)
	}
	if !swapped {
		// Document was deleted or re-ingested mid-run; the newer run owns it.
		log.Warn("Document left INDEXING during processing, result discarded")
		return Result{}, nil
	}

	log.Info("Document indexed", "chunks", len(rows), "degraded", degraded)
	return Result{Chunks: len(rows), Degraded: degraded}, nil
}

// embedAll fans chunk windows out to the embedder in bounded groups.
func (p *Pipeline) embedAll(ctx context.Context, windows []Chunk) ([]EmbedResult, error) {
	out := make([]EmbedResult, len(windows))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(windows); start += p.embedGroup {
		end := start + p.embedGroup
		if end > len(windows) {
			end = len(windows)
		}
		start, end := start, end
		g.Go(func() error {
			if err := p.embedSem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer p.embedSem.Release(1)

			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = windows[i].Text
			}
			results, err := p.embedder.EmbedChunks(gctx, texts)
			if err != nil {
				return err
			}
			if len(results) != end-start {
				return fmt.Errorf("embedder returned %d results for %d texts", len(results), end-start)
			}
			mu.Lock()
			copy(out[start:end], results)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
