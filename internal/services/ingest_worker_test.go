package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/ingestion"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
	"github.com/kestrelworks/aegiskb-backend/internal/vectorindex"
)

type workerFixture struct {
	worker *ingestWorker
	docs   *docStoreRepo
	runs   *runQueueRepo
	blobs  *blobRecorder
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	log := logger.NewNop()

	docs := newDocStoreRepo()
	runs := &runQueueRepo{}
	blobs := newBlobRecorder()
	embedder := &stubEmbedService{queryVec: []float32{1, 0, 0}}

	pipeline, err := ingestion.NewPipeline(docs, &stubChunkRepo{}, blobs, ingestion.NewParserRegistry(), embedder, vectorindex.NewMemoryIndex(log), log)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	w := NewIngestWorker(runs, docs, pipeline, log).(*ingestWorker)
	return &workerFixture{worker: w, docs: docs, runs: runs, blobs: blobs}
}

func (fx *workerFixture) seedDocument(t *testing.T, content string) *types.Document {
	t.Helper()
	doc := &types.Document{
		ID:         uuid.New(),
		KBID:       uuid.New(),
		Title:      "notes.txt",
		StorageKey: "kb/x/y/notes.txt",
		Clearance:  types.ClearanceInternal,
		Status:     types.DocumentIndexing,
	}
	fx.docs.docs[doc.ID] = doc
	if content != "" {
		if err := fx.blobs.Put(context.Background(), doc.StorageKey, strings.NewReader(content)); err != nil {
			t.Fatalf("seed blob: %v", err)
		}
	}
	return doc
}

func (fx *workerFixture) enqueue(doc *types.Document) *types.IngestionRun {
	run := &types.IngestionRun{ID: uuid.New(), DocumentID: doc.ID, Status: types.IngestionRunQueued}
	fx.runs.runs = append(fx.runs.runs, run)
	return run
}

func TestWorkerProcessRunSuccess(t *testing.T) {
	fx := newWorkerFixture(t)
	doc := fx.seedDocument(t, "the quick brown fox jumps over the lazy dog")
	fx.enqueue(doc)
	ctx := context.Background()

	run, err := fx.runs.ClaimNextRunnable(ctx, nil, 5, 0, 0)
	if err != nil || run == nil {
		t.Fatalf("claim: run=%v err=%v", run, err)
	}
	fx.worker.processRun(ctx, run)

	if run.Status != types.IngestionRunDone {
		t.Fatalf("want run done, got %s", run.Status)
	}
	if fx.docs.docs[doc.ID].Status != types.DocumentReady {
		t.Fatalf("want document READY, got %s", fx.docs.docs[doc.ID].Status)
	}
}

func TestWorkerProcessRunFailureRetries(t *testing.T) {
	fx := newWorkerFixture(t)
	doc := fx.seedDocument(t, "") // no blob: pipeline fails at fetch
	fx.enqueue(doc)
	ctx := context.Background()

	run, _ := fx.runs.ClaimNextRunnable(ctx, nil, 5, 0, 0)
	fx.worker.processRun(ctx, run)

	if run.Status != types.IngestionRunFailed {
		t.Fatalf("want run failed, got %s", run.Status)
	}
	if run.Error == "" {
		t.Fatal("want failure cause recorded on the run")
	}
	// Attempts not exhausted: the document stays INDEXING for the retry.
	if fx.docs.docs[doc.ID].Status != types.DocumentIndexing {
		t.Fatalf("want document still INDEXING, got %s", fx.docs.docs[doc.ID].Status)
	}
}

func TestWorkerTerminalErrorFailsDocumentImmediately(t *testing.T) {
	cases := []struct {
		name    string
		title   string
		content string
	}{
		{name: "unsupported format", title: "scan.pdf", content: "%PDF-1.4 binary payload"},
		{name: "empty content", title: "notes.txt", content: "   \n\t  "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newWorkerFixture(t)
			doc := fx.seedDocument(t, tc.content)
			doc.Title = tc.title
			doc.StorageKey = "kb/x/y/" + tc.title
			if err := fx.blobs.Put(context.Background(), doc.StorageKey, strings.NewReader(tc.content)); err != nil {
				t.Fatalf("seed blob: %v", err)
			}
			fx.enqueue(doc)
			ctx := context.Background()

			run, _ := fx.runs.ClaimNextRunnable(ctx, nil, 5, 0, 0)
			fx.worker.processRun(ctx, run)

			if run.Status != types.IngestionRunFailed {
				t.Fatalf("want run failed, got %s", run.Status)
			}
			// First attempt, but the error is the document's own fault:
			// no automatic retry, FAILED right away and pollable.
			if got := fx.docs.docs[doc.ID].Status; got != types.DocumentFailed {
				t.Fatalf("want document FAILED on first attempt, got %s", got)
			}
			if run.Attempts < fx.worker.maxAttempts {
				t.Fatalf("terminal failure must spend the attempt budget, got attempts=%d", run.Attempts)
			}
		})
	}
}

func TestWorkerExhaustedAttemptsFailDocument(t *testing.T) {
	fx := newWorkerFixture(t)
	doc := fx.seedDocument(t, "")
	run := fx.enqueue(doc)
	run.Status = types.IngestionRunRunning
	run.Attempts = fx.worker.maxAttempts

	fx.worker.processRun(context.Background(), run)

	if run.Status != types.IngestionRunFailed {
		t.Fatalf("want run failed, got %s", run.Status)
	}
	if fx.docs.docs[doc.ID].Status != types.DocumentFailed {
		t.Fatalf("want document FAILED after final attempt, got %s", fx.docs.docs[doc.ID].Status)
	}
}
