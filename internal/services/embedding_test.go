package services

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
)

type stubLLM struct {
	embedErr  error
	dimension int
	calls     int
}

func (s *stubLLM) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	s.calls++
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		vec := make([]float32, s.dimension)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (s *stubLLM) GenerateText(context.Context, string, string) (string, error) {
	return "stub", nil
}

func (s *stubLLM) GenerateJSON(context.Context, string, string) (map[string]any, error) {
	return map[string]any{"answer": "stub"}, nil
}

func TestEmbedChunksHappyPath(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSION", "8")
	svc := NewEmbeddingService(&stubLLM{dimension: 8}, logger.NewNop())

	results, err := svc.EmbedChunks(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Degraded {
			t.Fatalf("result %d unexpectedly degraded", i)
		}
		if len(r.Vector) != 8 {
			t.Fatalf("result %d has dim %d, want 8", i, len(r.Vector))
		}
	}
}

func TestEmbedChunksFallbackOnBackendFailure(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSION", "16")
	svc := NewEmbeddingService(&stubLLM{embedErr: errors.New("backend down")}, logger.NewNop())

	results, err := svc.EmbedChunks(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, r := range results {
		if !r.Degraded {
			t.Fatalf("result %d should be degraded", i)
		}
		if len(r.Vector) != 16 {
			t.Fatalf("result %d has dim %d, want 16", i, len(r.Vector))
		}
	}

	again, err := svc.EmbedChunks(context.Background(), []string{"alpha"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range again[0].Vector {
		if again[0].Vector[i] != results[0].Vector[i] {
			t.Fatalf("fallback vector not deterministic at index %d", i)
		}
	}
}

func TestEmbedChunksAbortMode(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSION", "8")
	t.Setenv("EMBEDDING_FALLBACK", "abort")
	svc := NewEmbeddingService(&stubLLM{embedErr: errors.New("backend down")}, logger.NewNop())

	if _, err := svc.EmbedChunks(context.Background(), []string{"alpha"}); err == nil {
		t.Fatal("want error in abort mode")
	}
}

func TestEmbedQueryNeverFallsBack(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSION", "8")
	svc := NewEmbeddingService(&stubLLM{embedErr: errors.New("backend down")}, logger.NewNop())

	if _, err := svc.EmbedQuery(context.Background(), "query"); err == nil {
		t.Fatal("want error when query embedding fails")
	}
}

func TestEmbedChunksBatching(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSION", "4")
	t.Setenv("EMBEDDING_BATCH_SIZE", "2")
	stub := &stubLLM{dimension: 4}
	svc := NewEmbeddingService(stub, logger.NewNop())

	texts := []string{"a", "b", "c", "d", "e"}
	results, err := svc.EmbedChunks(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("want 5 results, got %d", len(results))
	}
	if stub.calls != 3 {
		t.Fatalf("want 3 batches, got %d", stub.calls)
	}
}
