package vectorindex

import (
	"context"

	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

// Match is one scored retrieval hit. Score is normalized so that higher
// is better regardless of the backing index.
type Match struct {
	ChunkID uuid.UUID
	Score   float64
}

// Index is the retrieval capability boundary. Every search method takes
// the caller's authorized KB ids and must never return a chunk outside
// that set; an empty set returns nothing.
type Index interface {
	// Upsert makes the chunks searchable. The chunk rows are already
	// persisted by the time this is called.
	Upsert(ctx context.Context, chunks []*types.DocumentChunk) error

	// DeleteByDocument removes every indexed chunk of the document.
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error

	SimilaritySearch(ctx context.Context, vector []float32, kbIDs []uuid.UUID, k int, threshold float64) ([]Match, error)
	KeywordSearch(ctx context.Context, query string, kbIDs []uuid.UUID, k int) ([]Match, error)
}
