package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/kestrelworks/aegiskb-backend/internal/clients/llm"
	"github.com/kestrelworks/aegiskb-backend/internal/ingestion"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

// EmbeddingService wraps the model's embedding endpoint. Ingestion-side
// embedding survives backend outages: failed batches get a deterministic
// dimension-correct pseudo-vector and the chunk is flagged degraded, so
// keyword search still finds it and a later re-ingest can heal it.
// EMBEDDING_FALLBACK=abort turns that into a hard failure instead.
type EmbeddingService interface {
	ingestion.Embedder
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type embeddingService struct {
	log       *logger.Logger
	client    llm.Client
	dimension int
	abort     bool
	batchSize int
}

func NewEmbeddingService(client llm.Client, baseLog *logger.Logger) EmbeddingService {
	return &embeddingService{
		log:       baseLog.With("service", "EmbeddingService"),
		client:    client,
		dimension: utils.GetEnvAsInt("EMBEDDING_DIMENSION", 1536, baseLog),
		abort:     strings.EqualFold(strings.TrimSpace(utils.GetEnv("EMBEDDING_FALLBACK", "degrade", baseLog)), "abort"),
		batchSize: utils.GetEnvAsInt("EMBEDDING_BATCH_SIZE", 64, baseLog),
	}
}

func (s *embeddingService) Dimension() int { return s.dimension }

func (s *embeddingService) EmbedChunks(ctx context.Context, texts []string) ([]ingestion.EmbedResult, error) {
	out := make([]ingestion.EmbedResult, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			batch[i] = normalizeForEmbedding(t)
		}

		vectors, err := s.client.Embed(ctx, batch)
		if err != nil {
			if s.abort {
				return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			s.log.Warn("Embedding backend failed, falling back to pseudo-vectors",
				"batch_start", start, "batch_size", end-start, "error", err)
			for i := start; i < end; i++ {
				out[i] = ingestion.EmbedResult{Vector: fallbackVector(texts[i], s.dimension), Degraded: true}
			}
			continue
		}
		for i, vec := range vectors {
			if len(vec) != s.dimension {
				if s.abort {
					return nil, fmt.Errorf("embed batch [%d:%d]: dimension mismatch expected=%d got=%d", start, end, s.dimension, len(vec))
				}
				out[start+i] = ingestion.EmbedResult{Vector: fallbackVector(texts[start+i], s.dimension), Degraded: true}
				continue
			}
			out[start+i] = ingestion.EmbedResult{Vector: vec, Degraded: false}
		}
	}
	return out, nil
}

// EmbedQuery never falls back: a pseudo-vector query would rank real
// vectors arbitrarily. The retriever degrades to keyword search instead.
func (s *embeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.client.Embed(ctx, []string{normalizeForEmbedding(text)})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) != s.dimension {
		return nil, fmt.Errorf("embed query: dimension mismatch expected=%d", s.dimension)
	}
	return vectors[0], nil
}

// normalizeForEmbedding flattens newlines, which some embedding backends
// treat as document separators.
func normalizeForEmbedding(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.TrimSpace(text)
}

// fallbackVector derives a unit-length vector from an FNV hash of the
// text, so identical text maps to the same point across runs.
func fallbackVector(text string, dimension int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()
	if state == 0 {
		state = 0x9e3779b97f4a7c15
	}

	vec := make([]float32, dimension)
	var norm float64
	for i := range vec {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state%2000)-1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
