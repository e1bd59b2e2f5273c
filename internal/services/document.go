package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/clients/blob"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/repos"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
	"github.com/kestrelworks/aegiskb-backend/internal/vectorindex"
)

// ErrNotFound is the single not-found answer for reads through the
// services layer. Unauthorized and nonexistent resources are deliberately
// indistinguishable to the caller.
var ErrNotFound = gorm.ErrRecordNotFound

// UploadRequest carries one file into a knowledge base.
type UploadRequest struct {
	KBID      uuid.UUID
	Filename  string
	MimeType  string
	Clearance types.Clearance
	Content   io.Reader
}

// DocumentDetail is the read model for one document.
type DocumentDetail struct {
	Document   *types.Document     `json:"document"`
	ChunkCount int64               `json:"chunk_count"`
	LatestRun  *types.IngestionRun `json:"latest_run,omitempty"`
}

// DocumentService owns the document lifecycle: upload stores the raw
// bytes and schedules ingestion; re-ingest resets the state machine;
// delete removes bytes, chunks and index entries together.
type DocumentService interface {
	Upload(ctx context.Context, principal types.Principal, req UploadRequest) (*types.Document, error)
	Get(ctx context.Context, principal types.Principal, documentID uuid.UUID) (*DocumentDetail, error)
	ListByKB(ctx context.Context, principal types.Principal, kbID uuid.UUID) ([]*types.Document, error)
	Reingest(ctx context.Context, principal types.Principal, documentID uuid.UUID) (*types.IngestionRun, error)
	Delete(ctx context.Context, principal types.Principal, documentID uuid.UUID) error
}

type documentService struct {
	log    *logger.Logger
	access AccessService
	kbs    repos.KnowledgeBaseRepo
	docs   repos.DocumentRepo
	chunks repos.DocumentChunkRepo
	runs   repos.IngestionRunRepo
	blobs  blob.Store
	index  vectorindex.Index
}

func NewDocumentService(
	access AccessService,
	kbs repos.KnowledgeBaseRepo,
	docs repos.DocumentRepo,
	chunks repos.DocumentChunkRepo,
	runs repos.IngestionRunRepo,
	blobs blob.Store,
	index vectorindex.Index,
	baseLog *logger.Logger,
) DocumentService {
	return &documentService{
		log:    baseLog.With("service", "DocumentService"),
		access: access,
		kbs:    kbs,
		docs:   docs,
		chunks: chunks,
		runs:   runs,
		blobs:  blobs,
		index:  index,
	}
}

func (s *documentService) Upload(ctx context.Context, principal types.Principal, req UploadRequest) (*types.Document, error) {
	filename := strings.TrimSpace(path.Base(req.Filename))
	if filename == "" || filename == "." || filename == "/" {
		return nil, fmt.Errorf("filename required")
	}
	if !req.Clearance.Valid() {
		return nil, fmt.Errorf("invalid clearance level %d", req.Clearance)
	}

	kb, err := s.authorizedKB(ctx, principal, req.KBID)
	if err != nil {
		return nil, err
	}
	// The document may sit above the KB baseline but never below it, and
	// nobody can create material they could not read back.
	if req.Clearance < kb.BaseClearance {
		return nil, fmt.Errorf("document clearance %s below knowledge base baseline %s", req.Clearance, kb.BaseClearance)
	}
	if !principal.CanRead(req.Clearance) {
		return nil, fmt.Errorf("cannot create a document above your own clearance")
	}

	docID := uuid.New()
	storageKey := fmt.Sprintf("kb/%s/%s/%s", kb.ID, docID, filename)

	hasher := sha256.New()
	counter := &countingReader{r: io.TeeReader(req.Content, hasher)}
	if err := s.blobs.Put(ctx, storageKey, counter); err != nil {
		return nil, fmt.Errorf("store raw bytes: %w", err)
	}

	doc := &types.Document{
		ID:         docID,
		KBID:       kb.ID,
		Title:      filename,
		FileHash:   hex.EncodeToString(hasher.Sum(nil)),
		StorageKey: storageKey,
		SizeBytes:  counter.n,
		MimeType:   req.MimeType,
		Clearance:  req.Clearance,
		Status:     types.DocumentIndexing,
	}
	if doc, err = s.docs.Create(ctx, nil, doc); err != nil {
		// Orphaned blob; safe to leave, the key embeds the dead doc id.
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := s.enqueueRun(ctx, doc.ID); err != nil {
		return nil, err
	}
	s.log.Info("Document uploaded", "document_id", doc.ID, "kb_id", kb.ID, "size_bytes", doc.SizeBytes)
	return doc, nil
}

func (s *documentService) Get(ctx context.Context, principal types.Principal, documentID uuid.UUID) (*DocumentDetail, error) {
	doc, err := s.visibleDocument(ctx, principal, documentID)
	if err != nil {
		return nil, err
	}

	count, err := s.chunks.CountByDocumentID(ctx, nil, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	run, err := s.runs.GetLatestByDocumentID(ctx, nil, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	return &DocumentDetail{Document: doc, ChunkCount: count, LatestRun: run}, nil
}

func (s *documentService) ListByKB(ctx context.Context, principal types.Principal, kbID uuid.UUID) ([]*types.Document, error) {
	if _, err := s.authorizedKB(ctx, principal, kbID); err != nil {
		return nil, err
	}
	return s.docs.GetByKB(ctx, nil, kbID, principal.Clearance)
}

// Reingest resets the document to INDEXING and schedules a fresh run. The
// pipeline's chunk-set replacement makes this safe at any time.
func (s *documentService) Reingest(ctx context.Context, principal types.Principal, documentID uuid.UUID) (*types.IngestionRun, error) {
	doc, err := s.visibleDocument(ctx, principal, documentID)
	if err != nil {
		return nil, err
	}

	if err := s.docs.UpdateStatus(ctx, nil, doc.ID, types.DocumentIndexing); err != nil {
		return nil, fmt.Errorf("reset status: %w", err)
	}
	run, err := s.runs.Create(ctx, nil, &types.IngestionRun{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		Status:     types.IngestionRunQueued,
		Stage:      "queued",
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	s.log.Info("Document re-ingestion scheduled", "document_id", doc.ID, "run_id", run.ID)
	return run, nil
}

func (s *documentService) Delete(ctx context.Context, principal types.Principal, documentID uuid.UUID) error {
	doc, err := s.visibleDocument(ctx, principal, documentID)
	if err != nil {
		return err
	}

	if err := s.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if err := s.docs.Delete(ctx, nil, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil {
		// Row and chunks are gone; a leaked blob is a cleanup problem,
		// not a correctness one.
		s.log.Warn("Blob delete failed after document delete", "document_id", doc.ID, "error", err)
	}
	s.log.Info("Document deleted", "document_id", doc.ID)
	return nil
}

func (s *documentService) enqueueRun(ctx context.Context, documentID uuid.UUID) error {
	_, err := s.runs.Create(ctx, nil, &types.IngestionRun{
		ID:         uuid.New(),
		DocumentID: documentID,
		Status:     types.IngestionRunQueued,
		Stage:      "queued",
	})
	if err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}
	return nil
}

// authorizedKB resolves the KB only if the principal may read it; any
// other outcome is ErrNotFound.
func (s *documentService) authorizedKB(ctx context.Context, principal types.Principal, kbID uuid.UUID) (*types.KnowledgeBase, error) {
	authorized, err := s.access.AuthorizedKnowledgeBases(ctx, principal)
	if err != nil {
		return nil, err
	}
	for _, id := range authorized {
		if id == kbID {
			return s.kbs.GetByID(ctx, nil, kbID)
		}
	}
	return nil, ErrNotFound
}

func (s *documentService) visibleDocument(ctx context.Context, principal types.Principal, documentID uuid.UUID) (*types.Document, error) {
	doc, err := s.docs.GetByID(ctx, nil, documentID)
	if err != nil {
		return nil, ErrNotFound
	}
	ok, err := s.access.CanReadDocument(ctx, principal, doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
