package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

// postgresIndex searches the document_chunk table directly: pgvector for
// similarity, Postgres full-text search for keywords. Upsert and delete
// are no-ops because the chunk rows ARE the index.
type postgresIndex struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewPostgresIndex(db *gorm.DB, baseLog *logger.Logger) Index {
	return &postgresIndex{
		log: baseLog.With("index", "PostgresIndex"),
		db:  db,
	}
}

func (i *postgresIndex) Upsert(_ context.Context, _ []*types.DocumentChunk) error {
	return nil
}

func (i *postgresIndex) DeleteByDocument(_ context.Context, _ uuid.UUID) error {
	return nil
}

type scoredRow struct {
	ID    uuid.UUID `gorm:"column:id"`
	Score float64   `gorm:"column:score"`
}

func (i *postgresIndex) SimilaritySearch(ctx context.Context, vector []float32, kbIDs []uuid.UUID, k int, threshold float64) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("similarity search: query vector required")
	}
	if len(kbIDs) == 0 {
		return []Match{}, nil
	}
	if k <= 0 {
		k = 10
	}

	qv := pgvector.NewVector(vector)
	var rows []scoredRow
	err := i.db.WithContext(ctx).Raw(`
		SELECT id, 1 - (embedding <=> ?) AS score
		FROM document_chunk
		WHERE kb_id IN ?
		  AND 1 - (embedding <=> ?) > ?
		ORDER BY embedding <=> ?
		LIMIT ?`,
		qv, kbIDs, qv, threshold, qv, k,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return rowsToMatches(rows), nil
}

// KeywordSearch ranks with ts_rank_cd but reports rank-position scores
// (1/(rank+1)) so keyword results fuse with cosine scores on a shared
// 0..1 scale.
func (i *postgresIndex) KeywordSearch(ctx context.Context, query string, kbIDs []uuid.UUID, k int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Match{}, nil
	}
	if len(kbIDs) == 0 {
		return []Match{}, nil
	}
	if k <= 0 {
		k = 10
	}

	var ids []uuid.UUID
	err := i.db.WithContext(ctx).Raw(`
		SELECT id
		FROM document_chunk
		WHERE kb_id IN ?
		  AND to_tsvector('simple', text) @@ websearch_to_tsquery('simple', ?)
		ORDER BY ts_rank_cd(to_tsvector('simple', text), websearch_to_tsquery('simple', ?)) DESC
		LIMIT ?`,
		kbIDs, query, query, k,
	).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	out := make([]Match, 0, len(ids))
	for rank, id := range ids {
		out = append(out, Match{ChunkID: id, Score: 1.0 / float64(rank+1)})
	}
	return out, nil
}

func rowsToMatches(rows []scoredRow) []Match {
	out := make([]Match, 0, len(rows))
	for _, r := range rows {
		out = append(out, Match{ChunkID: r.ID, Score: r.Score})
	}
	return out
}
