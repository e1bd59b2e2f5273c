package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/repos"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
	"github.com/kestrelworks/aegiskb-backend/internal/vectorindex"
)

// RetrievedChunk is one hydrated retrieval hit with its fused score and
// owning document.
type RetrievedChunk struct {
	Chunk    *types.DocumentChunk
	Document *types.Document
	Score    float64
}

// RetrievalService runs the hybrid search: dense and keyword strategies
// in parallel over the caller's authorized KB set, fused by max score per
// chunk. One strategy failing degrades the answer to the other; both
// failing is an error.
type RetrievalService interface {
	Retrieve(ctx context.Context, principal types.Principal, query string, requestedKBs []uuid.UUID, k int) ([]RetrievedChunk, error)
}

type retrievalService struct {
	log       *logger.Logger
	access    AccessService
	embedder  EmbeddingService
	index     vectorindex.Index
	chunks    repos.DocumentChunkRepo
	docs      repos.DocumentRepo
	threshold float64
	defaultK  int
}

func NewRetrievalService(
	access AccessService,
	embedder EmbeddingService,
	index vectorindex.Index,
	chunks repos.DocumentChunkRepo,
	docs repos.DocumentRepo,
	baseLog *logger.Logger,
) RetrievalService {
	return &retrievalService{
		log:       baseLog.With("service", "RetrievalService"),
		access:    access,
		embedder:  embedder,
		index:     index,
		chunks:    chunks,
		docs:      docs,
		threshold: utils.GetEnvAsFloat("RETRIEVAL_SCORE_THRESHOLD", 0.25, baseLog),
		defaultK:  utils.GetEnvAsInt("RETRIEVAL_TOP_K", 8, baseLog),
	}
}

func (s *retrievalService) Retrieve(ctx context.Context, principal types.Principal, query string, requestedKBs []uuid.UUID, k int) ([]RetrievedChunk, error) {
	if k <= 0 {
		k = s.defaultK
	}

	kbIDs, err := s.access.FilterRequested(ctx, principal, requestedKBs)
	if err != nil {
		return nil, err
	}
	if len(kbIDs) == 0 {
		// Nothing authorized. Same shape as "no results" on purpose.
		return []RetrievedChunk{}, nil
	}

	var dense, sparse []vectorindex.Match
	var denseErr, sparseErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := s.embedder.EmbedQuery(gctx, query)
		if err != nil {
			denseErr = fmt.Errorf("dense strategy: %w", err)
			return nil
		}
		matches, err := s.index.SimilaritySearch(gctx, vector, kbIDs, k*2, s.threshold)
		if err != nil {
			denseErr = fmt.Errorf("dense strategy: %w", err)
			return nil
		}
		dense = matches
		return nil
	})
	g.Go(func() error {
		matches, err := s.index.KeywordSearch(gctx, query, kbIDs, k*2)
		if err != nil {
			sparseErr = fmt.Errorf("sparse strategy: %w", err)
			return nil
		}
		sparse = matches
		return nil
	})
	_ = g.Wait()

	if denseErr != nil && sparseErr != nil {
		return nil, fmt.Errorf("all retrieval strategies failed: %v; %v", denseErr, sparseErr)
	}
	if denseErr != nil {
		s.log.Warn("Dense retrieval failed, serving keyword results only", "error", denseErr)
	}
	if sparseErr != nil {
		s.log.Warn("Keyword retrieval failed, serving dense results only", "error", sparseErr)
	}

	fused := fuseMatches(dense, sparse)
	if len(fused) > k {
		fused = fused[:k]
	}
	if len(fused) == 0 {
		return []RetrievedChunk{}, nil
	}

	return s.hydrate(ctx, principal, kbIDs, fused)
}

// fuseMatches merges two strategy result lists keyed by chunk id, taking
// the max score where both found the same chunk.
func fuseMatches(lists ...[]vectorindex.Match) []vectorindex.Match {
	best := make(map[uuid.UUID]float64)
	for _, list := range lists {
		for _, m := range list {
			if cur, ok := best[m.ChunkID]; !ok || m.Score > cur {
				best[m.ChunkID] = m.Score
			}
		}
	}
	out := make([]vectorindex.Match, 0, len(best))
	for id, score := range best {
		out = append(out, vectorindex.Match{ChunkID: id, Score: score})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score == out[b].Score {
			return out[a].ChunkID.String() < out[b].ChunkID.String()
		}
		return out[a].Score > out[b].Score
	})
	return out
}

// hydrate loads chunk and document rows and re-applies both security
// gates. The index already filtered by KB, but the document clearance
// check can only happen here, and a stale index entry must never leak.
func (s *retrievalService) hydrate(ctx context.Context, principal types.Principal, kbIDs []uuid.UUID, matches []vectorindex.Match) ([]RetrievedChunk, error) {
	ids := make([]uuid.UUID, 0, len(matches))
	scores := make(map[uuid.UUID]float64, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ChunkID)
		scores[m.ChunkID] = m.Score
	}

	chunks, err := s.chunks.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate chunks: %w", err)
	}

	docIDSet := make(map[uuid.UUID]struct{}, len(chunks))
	docIDs := make([]uuid.UUID, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := docIDSet[c.DocumentID]; !ok {
			docIDSet[c.DocumentID] = struct{}{}
			docIDs = append(docIDs, c.DocumentID)
		}
	}
	docs, err := s.docs.GetByIDs(ctx, nil, docIDs)
	if err != nil {
		return nil, fmt.Errorf("hydrate documents: %w", err)
	}
	docByID := make(map[uuid.UUID]*types.Document, len(docs))
	for _, d := range docs {
		docByID[d.ID] = d
	}
	allowedKB := make(map[uuid.UUID]struct{}, len(kbIDs))
	for _, id := range kbIDs {
		allowedKB[id] = struct{}{}
	}

	out := make([]RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		doc, ok := docByID[c.DocumentID]
		if !ok || doc.Status != types.DocumentReady {
			continue
		}
		if _, ok := allowedKB[c.KBID]; !ok {
			continue
		}
		if !principal.CanRead(doc.Clearance) {
			continue
		}
		out = append(out, RetrievedChunk{Chunk: c, Document: doc, Score: scores[c.ID]})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score == out[b].Score {
			return out[a].Chunk.ID.String() < out[b].Chunk.ID.String()
		}
		return out[a].Score > out[b].Score
	})
	return out, nil
}
