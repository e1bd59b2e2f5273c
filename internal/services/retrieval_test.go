package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/ingestion"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
	"github.com/kestrelworks/aegiskb-backend/internal/vectorindex"
)

type stubAccess struct {
	authorized []uuid.UUID
}

func (s *stubAccess) AuthorizedKnowledgeBases(context.Context, types.Principal) ([]uuid.UUID, error) {
	return s.authorized, nil
}

func (s *stubAccess) FilterRequested(_ context.Context, _ types.Principal, requested []uuid.UUID) ([]uuid.UUID, error) {
	if len(requested) == 0 {
		return s.authorized, nil
	}
	out := []uuid.UUID{}
	for _, r := range requested {
		for _, a := range s.authorized {
			if r == a {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (s *stubAccess) CanReadDocument(_ context.Context, p types.Principal, doc *types.Document) (bool, error) {
	if doc == nil || !p.CanRead(doc.Clearance) {
		return false, nil
	}
	for _, a := range s.authorized {
		if a == doc.KBID {
			return true, nil
		}
	}
	return false, nil
}

type stubEmbedService struct {
	queryVec []float32
	queryErr error
}

func (s *stubEmbedService) EmbedChunks(_ context.Context, texts []string) ([]ingestion.EmbedResult, error) {
	out := make([]ingestion.EmbedResult, len(texts))
	for i := range texts {
		out[i] = ingestion.EmbedResult{Vector: s.queryVec}
	}
	return out, nil
}

func (s *stubEmbedService) EmbedQuery(context.Context, string) ([]float32, error) {
	return s.queryVec, s.queryErr
}

func (s *stubEmbedService) Dimension() int { return len(s.queryVec) }

type stubChunkRepo struct {
	chunks map[uuid.UUID]*types.DocumentChunk
}

func (s *stubChunkRepo) ReplaceForDocument(_ context.Context, _ *gorm.DB, _ uuid.UUID, _ []*types.DocumentChunk) error {
	return nil
}
func (s *stubChunkRepo) GetByDocumentID(_ context.Context, _ *gorm.DB, _ uuid.UUID) ([]*types.DocumentChunk, error) {
	return nil, nil
}
func (s *stubChunkRepo) CountByDocumentID(_ context.Context, _ *gorm.DB, _ uuid.UUID) (int64, error) {
	return 0, nil
}
func (s *stubChunkRepo) DeleteByDocumentID(_ context.Context, _ *gorm.DB, _ uuid.UUID) error {
	return nil
}

func (s *stubChunkRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.DocumentChunk, error) {
	out := []*types.DocumentChunk{}
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubDocRepo struct {
	docs map[uuid.UUID]*types.Document
}

func (s *stubDocRepo) Create(_ context.Context, _ *gorm.DB, doc *types.Document) (*types.Document, error) {
	return doc, nil
}
func (s *stubDocRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return doc, nil
}
func (s *stubDocRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.Document, error) {
	out := []*types.Document{}
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}
func (s *stubDocRepo) GetByKB(_ context.Context, _ *gorm.DB, _ uuid.UUID, _ types.Clearance) ([]*types.Document, error) {
	return nil, nil
}
func (s *stubDocRepo) UpdateStatus(_ context.Context, _ *gorm.DB, _ uuid.UUID, _ types.DocumentStatus) error {
	return nil
}
func (s *stubDocRepo) CompareAndSetStatus(_ context.Context, _ *gorm.DB, _ uuid.UUID, _, _ types.DocumentStatus) (bool, error) {
	return true, nil
}
func (s *stubDocRepo) Delete(_ context.Context, _ *gorm.DB, _ uuid.UUID) error { return nil }

type retrievalFixture struct {
	svc    RetrievalService
	index  vectorindex.Index
	chunks *stubChunkRepo
	docs   *stubDocRepo
	access *stubAccess
}

func newRetrievalFixture(t *testing.T, embedder EmbeddingService, authorized []uuid.UUID) *retrievalFixture {
	t.Helper()
	fx := &retrievalFixture{
		index:  vectorindex.NewMemoryIndex(logger.NewNop()),
		chunks: &stubChunkRepo{chunks: make(map[uuid.UUID]*types.DocumentChunk)},
		docs:   &stubDocRepo{docs: make(map[uuid.UUID]*types.Document)},
		access: &stubAccess{authorized: authorized},
	}
	fx.svc = NewRetrievalService(fx.access, embedder, fx.index, fx.chunks, fx.docs, logger.NewNop())
	return fx
}

func (fx *retrievalFixture) seed(t *testing.T, kbID uuid.UUID, docClearance types.Clearance, status types.DocumentStatus, text string, vec []float32) *types.DocumentChunk {
	t.Helper()
	doc := &types.Document{
		ID:        uuid.New(),
		KBID:      kbID,
		Title:     "doc.txt",
		Clearance: docClearance,
		Status:    status,
	}
	fx.docs.docs[doc.ID] = doc

	chunk := &types.DocumentChunk{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		KBID:       kbID,
		Text:       text,
		Embedding:  pgvector.NewVector(vec),
	}
	fx.chunks.chunks[chunk.ID] = chunk
	if err := fx.index.Upsert(context.Background(), []*types.DocumentChunk{chunk}); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	return chunk
}

func TestRetrieveEmptyAuthorizedSetShortCircuits(t *testing.T) {
	fx := newRetrievalFixture(t, &stubEmbedService{queryVec: []float32{1, 0, 0}}, nil)
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceSecret}

	got, err := fx.svc.Retrieve(context.Background(), principal, "anything", nil, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want empty result, got %d chunks", len(got))
	}
}

func TestRetrieveHybridFusionPrefersMaxScore(t *testing.T) {
	kb := uuid.New()
	fx := newRetrievalFixture(t, &stubEmbedService{queryVec: []float32{1, 0, 0}}, []uuid.UUID{kb})
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceSecret}

	both := fx.seed(t, kb, types.ClearanceInternal, types.DocumentReady, "reactor maintenance window", []float32{1, 0, 0})
	denseOnly := fx.seed(t, kb, types.ClearanceInternal, types.DocumentReady, "unrelated words entirely", []float32{0.95, 0.05, 0})
	sparseOnly := fx.seed(t, kb, types.ClearanceInternal, types.DocumentReady, "reactor shutdown procedure", []float32{0, 0, 1})

	got, err := fx.svc.Retrieve(context.Background(), principal, "reactor maintenance", nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 fused hits, got %d", len(got))
	}
	if got[0].Chunk.ID != both.ID {
		t.Fatalf("chunk found by both strategies should rank first, got %s", got[0].Chunk.ID)
	}

	seen := map[uuid.UUID]bool{}
	for _, rc := range got {
		if seen[rc.Chunk.ID] {
			t.Fatalf("chunk %s appears twice after fusion", rc.Chunk.ID)
		}
		seen[rc.Chunk.ID] = true
	}
	if !seen[denseOnly.ID] || !seen[sparseOnly.ID] {
		t.Fatal("fusion dropped a single-strategy hit")
	}
}

func TestRetrieveDegradesWhenDenseFails(t *testing.T) {
	kb := uuid.New()
	fx := newRetrievalFixture(t, &stubEmbedService{queryErr: errors.New("embedder down")}, []uuid.UUID{kb})
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceSecret}

	hit := fx.seed(t, kb, types.ClearanceInternal, types.DocumentReady, "quarterly audit findings", []float32{1, 0, 0})

	got, err := fx.svc.Retrieve(context.Background(), principal, "audit findings", nil, 5)
	if err != nil {
		t.Fatalf("one failing strategy must not fail retrieval: %v", err)
	}
	if len(got) != 1 || got[0].Chunk.ID != hit.ID {
		t.Fatalf("want keyword hit %s, got %+v", hit.ID, got)
	}
}

func TestRetrieveHydrationReappliesSecurityGates(t *testing.T) {
	kbAuthorized := uuid.New()
	fx := newRetrievalFixture(t, &stubEmbedService{queryVec: []float32{1, 0, 0}}, []uuid.UUID{kbAuthorized})
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceInternal}

	visible := fx.seed(t, kbAuthorized, types.ClearanceInternal, types.DocumentReady, "shared guidance", []float32{1, 0, 0})
	fx.seed(t, kbAuthorized, types.ClearanceSecret, types.DocumentReady, "shared guidance secret", []float32{1, 0, 0})
	fx.seed(t, kbAuthorized, types.ClearanceInternal, types.DocumentIndexing, "shared guidance draft", []float32{1, 0, 0})

	got, err := fx.svc.Retrieve(context.Background(), principal, "shared guidance", nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want only the dominated READY chunk, got %d", len(got))
	}
	if got[0].Chunk.ID != visible.ID {
		t.Fatalf("want chunk %s, got %s", visible.ID, got[0].Chunk.ID)
	}
}

func TestRetrieveTruncatesToK(t *testing.T) {
	kb := uuid.New()
	fx := newRetrievalFixture(t, &stubEmbedService{queryVec: []float32{1, 0, 0}}, []uuid.UUID{kb})
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceSecret}

	for i := 0; i < 6; i++ {
		fx.seed(t, kb, types.ClearanceInternal, types.DocumentReady, "common topic text", []float32{1, float32(i) * 0.01, 0})
	}

	got, err := fx.svc.Retrieve(context.Background(), principal, "common topic", nil, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 results, got %d", len(got))
	}
}
