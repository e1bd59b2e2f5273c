package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
	"github.com/kestrelworks/aegiskb-backend/internal/vectorindex"
)

type fakeDocumentRepo struct {
	docs map[uuid.UUID]*types.Document
}

func (f *fakeDocumentRepo) Create(_ context.Context, _ *gorm.DB, doc *types.Document) (*types.Document, error) {
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeDocumentRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocumentRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.Document, error) {
	out := make([]*types.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDocumentRepo) GetByKB(_ context.Context, _ *gorm.DB, kbID uuid.UUID, maxClearance types.Clearance) ([]*types.Document, error) {
	var out []*types.Document
	for _, doc := range f.docs {
		if doc.KBID == kbID && doc.Clearance <= maxClearance {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDocumentRepo) UpdateStatus(_ context.Context, _ *gorm.DB, id uuid.UUID, status types.DocumentStatus) error {
	doc, ok := f.docs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	doc.Status = status
	return nil
}

func (f *fakeDocumentRepo) CompareAndSetStatus(_ context.Context, _ *gorm.DB, id uuid.UUID, expect, next types.DocumentStatus) (bool, error) {
	doc, ok := f.docs[id]
	if !ok {
		return false, nil
	}
	if doc.Status != expect {
		return false, nil
	}
	doc.Status = next
	return true, nil
}

func (f *fakeDocumentRepo) Delete(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	delete(f.docs, id)
	return nil
}

type fakeChunkRepo struct {
	byDocument map[uuid.UUID][]*types.DocumentChunk
	replaces   int
}

func (f *fakeChunkRepo) ReplaceForDocument(_ context.Context, _ *gorm.DB, documentID uuid.UUID, chunks []*types.DocumentChunk) error {
	f.replaces++
	f.byDocument[documentID] = chunks
	return nil
}

func (f *fakeChunkRepo) GetByDocumentID(_ context.Context, _ *gorm.DB, documentID uuid.UUID) ([]*types.DocumentChunk, error) {
	return f.byDocument[documentID], nil
}

func (f *fakeChunkRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.DocumentChunk, error) {
	var out []*types.DocumentChunk
	for _, chunks := range f.byDocument {
		for _, c := range chunks {
			for _, id := range ids {
				if c.ID == id {
					out = append(out, c)
				}
			}
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) CountByDocumentID(_ context.Context, _ *gorm.DB, documentID uuid.UUID) (int64, error) {
	return int64(len(f.byDocument[documentID])), nil
}

func (f *fakeChunkRepo) DeleteByDocumentID(_ context.Context, _ *gorm.DB, documentID uuid.UUID) error {
	delete(f.byDocument, documentID)
	return nil
}

type fakeBlobStore struct {
	blobs map[string][]byte
}

func (f *fakeBlobStore) Put(_ context.Context, key string, r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.blobs[key] = raw
	return nil
}

func (f *fakeBlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	delete(f.blobs, key)
	return nil
}

type fixedEmbedder struct {
	dimension int
	degraded  bool
	err       error
}

func (f *fixedEmbedder) EmbedChunks(_ context.Context, texts []string) ([]EmbedResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]EmbedResult, len(texts))
	for i := range texts {
		vec := make([]float32, f.dimension)
		vec[0] = 1
		out[i] = EmbedResult{Vector: vec, Degraded: f.degraded}
	}
	return out, nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	docs     *fakeDocumentRepo
	chunks   *fakeChunkRepo
	blobs    *fakeBlobStore
	index    vectorindex.Index
}

func newPipelineFixture(t *testing.T, embedder Embedder) *pipelineFixture {
	t.Helper()
	t.Setenv("CHUNK_SIZE", "16")
	t.Setenv("CHUNK_OVERLAP", "4")

	docs := &fakeDocumentRepo{docs: make(map[uuid.UUID]*types.Document)}
	chunks := &fakeChunkRepo{byDocument: make(map[uuid.UUID][]*types.DocumentChunk)}
	blobs := &fakeBlobStore{blobs: make(map[string][]byte)}
	index := vectorindex.NewMemoryIndex(logger.NewNop())

	p, err := NewPipeline(docs, chunks, blobs, NewParserRegistry(), embedder, index, logger.NewNop())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return &pipelineFixture{pipeline: p, docs: docs, chunks: chunks, blobs: blobs, index: index}
}

func (fx *pipelineFixture) addDocument(t *testing.T, status types.DocumentStatus, content string) *types.Document {
	t.Helper()
	doc := &types.Document{
		ID:         uuid.New(),
		KBID:       uuid.New(),
		Title:      "report.txt",
		StorageKey: "kb/doc/report.txt",
		Status:     status,
	}
	fx.docs.docs[doc.ID] = doc
	fx.blobs.blobs[doc.StorageKey] = []byte(content)
	return doc
}

func TestPipelineProcessHappyPath(t *testing.T) {
	fx := newPipelineFixture(t, &fixedEmbedder{dimension: 8})
	doc := fx.addDocument(t, types.DocumentIndexing, "the quick brown fox jumps over the lazy dog")

	res, err := fx.pipeline.Process(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Chunks == 0 {
		t.Fatal("want chunks, got none")
	}
	if res.Degraded != 0 {
		t.Fatalf("want 0 degraded, got %d", res.Degraded)
	}
	if fx.docs.docs[doc.ID].Status != types.DocumentReady {
		t.Fatalf("want READY, got %s", fx.docs.docs[doc.ID].Status)
	}

	stored := fx.chunks.byDocument[doc.ID]
	if len(stored) != res.Chunks {
		t.Fatalf("want %d stored chunks, got %d", res.Chunks, len(stored))
	}
	for i, c := range stored {
		if c.Ordinal != i {
			t.Fatalf("chunk %d has ordinal %d", i, c.Ordinal)
		}
		if c.KBID != doc.KBID {
			t.Fatalf("chunk %d missing denormalized kb id", i)
		}
	}
}

func TestPipelineSkipsDocumentNotInIndexing(t *testing.T) {
	fx := newPipelineFixture(t, &fixedEmbedder{dimension: 8})
	doc := fx.addDocument(t, types.DocumentReady, "already processed content here")

	res, err := fx.pipeline.Process(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Chunks != 0 {
		t.Fatalf("want no work, got %d chunks", res.Chunks)
	}
	if fx.chunks.replaces != 0 {
		t.Fatal("chunk set must not be touched for a non-INDEXING document")
	}
}

func TestPipelineReplacesChunkSetOnReingest(t *testing.T) {
	fx := newPipelineFixture(t, &fixedEmbedder{dimension: 8})
	doc := fx.addDocument(t, types.DocumentIndexing, "first version of the document body text")

	if _, err := fx.pipeline.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("first process: %v", err)
	}
	firstCount := len(fx.chunks.byDocument[doc.ID])

	fx.blobs.blobs[doc.StorageKey] = []byte("v2")
	fx.docs.docs[doc.ID].Status = types.DocumentIndexing
	if _, err := fx.pipeline.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("second process: %v", err)
	}

	if fx.chunks.replaces != 2 {
		t.Fatalf("want 2 replacements, got %d", fx.chunks.replaces)
	}
	secondCount := len(fx.chunks.byDocument[doc.ID])
	if secondCount >= firstCount {
		t.Fatalf("shrunk document should have fewer chunks: first=%d second=%d", firstCount, secondCount)
	}
	for _, c := range fx.chunks.byDocument[doc.ID] {
		if c.Text != "v2" {
			t.Fatalf("stale chunk survived re-ingest: %q", c.Text)
		}
	}
}

func TestPipelineDegradedChunksStillReachReady(t *testing.T) {
	fx := newPipelineFixture(t, &fixedEmbedder{dimension: 8, degraded: true})
	doc := fx.addDocument(t, types.DocumentIndexing, "content embedded through the fallback path")

	res, err := fx.pipeline.Process(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Degraded != res.Chunks {
		t.Fatalf("want all %d chunks degraded, got %d", res.Chunks, res.Degraded)
	}
	if fx.docs.docs[doc.ID].Status != types.DocumentReady {
		t.Fatalf("degraded embeddings must still finish READY, got %s", fx.docs.docs[doc.ID].Status)
	}
	for _, c := range fx.chunks.byDocument[doc.ID] {
		if !c.EmbeddingDegraded {
			t.Fatal("chunk missing degraded flag")
		}
	}
}

func TestPipelineFailuresSurfaceToCaller(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(t *testing.T, fx *pipelineFixture) uuid.UUID
		wantErr error
	}{
		{
			name: "empty content",
			prepare: func(t *testing.T, fx *pipelineFixture) uuid.UUID {
				return fx.addDocument(t, types.DocumentIndexing, "   \n ").ID
			},
			wantErr: ErrEmptyContent,
		},
		{
			name: "unsupported format",
			prepare: func(t *testing.T, fx *pipelineFixture) uuid.UUID {
				doc := fx.addDocument(t, types.DocumentIndexing, "%PDF-1.4")
				doc.Title = "scan.pdf"
				return doc.ID
			},
		},
		{
			name: "missing blob",
			prepare: func(t *testing.T, fx *pipelineFixture) uuid.UUID {
				doc := fx.addDocument(t, types.DocumentIndexing, "body")
				delete(fx.blobs.blobs, doc.StorageKey)
				return doc.ID
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newPipelineFixture(t, &fixedEmbedder{dimension: 8})
			docID := tc.prepare(t, fx)

			_, err := fx.pipeline.Process(context.Background(), docID)
			if err == nil {
				t.Fatal("want error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if fx.docs.docs[docID].Status != types.DocumentIndexing {
				t.Fatalf("pipeline must not flip status on failure, got %s", fx.docs.docs[docID].Status)
			}
		})
	}
}

func TestPipelineEmbedderFailureAborts(t *testing.T) {
	fx := newPipelineFixture(t, &fixedEmbedder{err: errors.New("embedder exploded")})
	doc := fx.addDocument(t, types.DocumentIndexing, "some content to embed")

	if _, err := fx.pipeline.Process(context.Background(), doc.ID); err == nil {
		t.Fatal("want error from embedder")
	}
	if fx.chunks.replaces != 0 {
		t.Fatal("chunk set must not change when embedding fails")
	}
}
