package vectorindex

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

// memoryIndex keeps vectors and chunk text in process memory. It backs
// sqlite deployments (no pgvector, no tsquery) and tests.
type memoryIndex struct {
	log *logger.Logger

	mu      sync.RWMutex
	entries map[uuid.UUID]*memoryEntry
}

type memoryEntry struct {
	chunkID    uuid.UUID
	documentID uuid.UUID
	kbID       uuid.UUID
	vector     []float32
	terms      map[string]struct{}
}

func NewMemoryIndex(baseLog *logger.Logger) Index {
	return &memoryIndex{
		log:     baseLog.With("index", "MemoryIndex"),
		entries: make(map[uuid.UUID]*memoryEntry),
	}
}

func (i *memoryIndex) Upsert(_ context.Context, chunks []*types.DocumentChunk) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, c := range chunks {
		vec := make([]float32, len(c.Embedding.Slice()))
		copy(vec, c.Embedding.Slice())
		i.entries[c.ID] = &memoryEntry{
			chunkID:    c.ID,
			documentID: c.DocumentID,
			kbID:       c.KBID,
			vector:     vec,
			terms:      tokenize(c.Text),
		}
	}
	return nil
}

func (i *memoryIndex) DeleteByDocument(_ context.Context, documentID uuid.UUID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, e := range i.entries {
		if e.documentID == documentID {
			delete(i.entries, id)
		}
	}
	return nil
}

func (i *memoryIndex) SimilaritySearch(_ context.Context, vector []float32, kbIDs []uuid.UUID, k int, threshold float64) ([]Match, error) {
	if len(kbIDs) == 0 {
		return []Match{}, nil
	}
	if k <= 0 {
		k = 10
	}
	allowed := kbSet(kbIDs)

	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]Match, 0, k)
	for _, e := range i.entries {
		if _, ok := allowed[e.kbID]; !ok {
			continue
		}
		score := cosine(vector, e.vector)
		if score <= threshold {
			continue
		}
		out = append(out, Match{ChunkID: e.chunkID, Score: score})
	}
	sortMatches(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (i *memoryIndex) KeywordSearch(_ context.Context, query string, kbIDs []uuid.UUID, k int) ([]Match, error) {
	if len(kbIDs) == 0 {
		return []Match{}, nil
	}
	if k <= 0 {
		k = 10
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return []Match{}, nil
	}
	allowed := kbSet(kbIDs)

	i.mu.RLock()
	defer i.mu.RUnlock()

	type hit struct {
		chunkID uuid.UUID
		overlap int
	}
	hits := make([]hit, 0, k)
	for _, e := range i.entries {
		if _, ok := allowed[e.kbID]; !ok {
			continue
		}
		overlap := 0
		for term := range queryTerms {
			if _, ok := e.terms[term]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		hits = append(hits, hit{chunkID: e.chunkID, overlap: overlap})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].overlap == hits[b].overlap {
			return hits[a].chunkID.String() < hits[b].chunkID.String()
		}
		return hits[a].overlap > hits[b].overlap
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]Match, 0, len(hits))
	for rank, h := range hits {
		out = append(out, Match{ChunkID: h.chunkID, Score: 1.0 / float64(rank+1)})
	}
	return out, nil
}

func kbSet(kbIDs []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(kbIDs))
	for _, id := range kbIDs {
		set[id] = struct{}{}
	}
	return set
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score == matches[b].Score {
			return matches[a].ChunkID.String() < matches[b].ChunkID.String()
		}
		return matches[a].Score > matches[b].Score
	})
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		term := strings.Trim(field, ".,;:!?\"'()[]{}")
		if len(term) < 2 {
			continue
		}
		out[term] = struct{}{}
	}
	return out
}
