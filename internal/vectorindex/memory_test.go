package vectorindex

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

func newChunk(kbID, docID uuid.UUID, text string, vec []float32) *types.DocumentChunk {
	return &types.DocumentChunk{
		ID:         uuid.New(),
		DocumentID: docID,
		KBID:       kbID,
		Text:       text,
		Embedding:  pgvector.NewVector(vec),
	}
}

func TestMemoryIndexKBScoping(t *testing.T) {
	idx := NewMemoryIndex(logger.NewNop())
	ctx := context.Background()

	kbA := uuid.New()
	kbB := uuid.New()
	docA := uuid.New()
	docB := uuid.New()

	inA := newChunk(kbA, docA, "reactor maintenance schedule", []float32{1, 0, 0})
	inB := newChunk(kbB, docB, "reactor maintenance schedule", []float32{1, 0, 0})
	if err := idx.Upsert(ctx, []*types.DocumentChunk{inA, inB}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := idx.SimilaritySearch(ctx, []float32{1, 0, 0}, []uuid.UUID{kbA}, 10, 0)
	if err != nil {
		t.Fatalf("similarity search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("want 1 match scoped to kbA, got %d", len(matches))
	}
	if matches[0].ChunkID != inA.ID {
		t.Fatalf("want chunk %s, got %s", inA.ID, matches[0].ChunkID)
	}

	matches, err = idx.KeywordSearch(ctx, "reactor schedule", []uuid.UUID{kbB}, 10)
	if err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if len(matches) != 1 || matches[0].ChunkID != inB.ID {
		t.Fatalf("keyword search not scoped to kbB: %+v", matches)
	}
}

func TestMemoryIndexEmptyAuthorizedSetReturnsNothing(t *testing.T) {
	idx := NewMemoryIndex(logger.NewNop())
	ctx := context.Background()

	kb := uuid.New()
	c := newChunk(kb, uuid.New(), "classified payload", []float32{0, 1, 0})
	if err := idx.Upsert(ctx, []*types.DocumentChunk{c}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := idx.SimilaritySearch(ctx, []float32{0, 1, 0}, nil, 10, 0)
	if err != nil {
		t.Fatalf("similarity search: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("want no matches for empty authorized set, got %d", len(matches))
	}

	matches, err = idx.KeywordSearch(ctx, "classified", nil, 10)
	if err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("want no keyword matches for empty authorized set, got %d", len(matches))
	}
}

func TestMemoryIndexSimilarityThresholdAndOrder(t *testing.T) {
	idx := NewMemoryIndex(logger.NewNop())
	ctx := context.Background()

	kb := uuid.New()
	doc := uuid.New()
	exact := newChunk(kb, doc, "a", []float32{1, 0, 0})
	near := newChunk(kb, doc, "b", []float32{0.9, 0.1, 0})
	far := newChunk(kb, doc, "c", []float32{0, 0, 1})
	if err := idx.Upsert(ctx, []*types.DocumentChunk{far, near, exact}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := idx.SimilaritySearch(ctx, []float32{1, 0, 0}, []uuid.UUID{kb}, 10, 0.5)
	if err != nil {
		t.Fatalf("similarity search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("want 2 matches above threshold, got %d", len(matches))
	}
	if matches[0].ChunkID != exact.ID {
		t.Fatalf("want exact match ranked first, got %s", matches[0].ChunkID)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatalf("matches not sorted by score: %v then %v", matches[0].Score, matches[1].Score)
	}

	// exact and far are orthogonal to this query (score exactly 0): a
	// score at the threshold is dropped, not kept.
	matches, err = idx.SimilaritySearch(ctx, []float32{0, 1, 0}, []uuid.UUID{kb}, 10, 0)
	if err != nil {
		t.Fatalf("similarity search: %v", err)
	}
	if len(matches) != 1 || matches[0].ChunkID != near.ID {
		t.Fatalf("want only the near chunk above a zero threshold, got %d matches", len(matches))
	}
}

func TestMemoryIndexDeleteByDocument(t *testing.T) {
	idx := NewMemoryIndex(logger.NewNop())
	ctx := context.Background()

	kb := uuid.New()
	docKeep := uuid.New()
	docDrop := uuid.New()
	keep := newChunk(kb, docKeep, "keep this", []float32{1, 0, 0})
	drop := newChunk(kb, docDrop, "drop this", []float32{1, 0, 0})
	if err := idx.Upsert(ctx, []*types.DocumentChunk{keep, drop}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := idx.DeleteByDocument(ctx, docDrop); err != nil {
		t.Fatalf("delete: %v", err)
	}

	matches, err := idx.SimilaritySearch(ctx, []float32{1, 0, 0}, []uuid.UUID{kb}, 10, 0)
	if err != nil {
		t.Fatalf("similarity search: %v", err)
	}
	if len(matches) != 1 || matches[0].ChunkID != keep.ID {
		t.Fatalf("want only surviving chunk %s, got %+v", keep.ID, matches)
	}
}
