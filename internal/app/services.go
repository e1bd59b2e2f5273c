package app

import (
	"fmt"

	"github.com/kestrelworks/aegiskb-backend/internal/graph"
	"github.com/kestrelworks/aegiskb-backend/internal/ingestion"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/services"
)

type Services struct {
	Access       services.AccessService
	Embedding    services.EmbeddingService
	Retrieval    services.RetrievalService
	RAG          services.RAGService
	KBs          services.KBService
	Documents    services.DocumentService
	Chat         services.ChatService
	IngestWorker services.IngestWorker

	Provenance *graph.ProvenanceStore
}

func wireServices(log *logger.Logger, reposet Repos, clients Clients) (Services, error) {
	access := services.NewAccessService(reposet.KnowledgeBases, clients.AuthCache, log)
	embedding := services.NewEmbeddingService(clients.LLM, log)
	retrieval := services.NewRetrievalService(access, embedding, clients.Index, reposet.Chunks, reposet.Documents, log)

	var provenance *graph.ProvenanceStore
	var sink services.ProvenanceSink
	if clients.Graph != nil {
		provenance = graph.NewProvenanceStore(clients.Graph, log)
		sink = provenance
	}

	rag := services.NewRAGService(clients.LLM, retrieval, reposet.Conversations, reposet.Messages, sink, log)
	kbs := services.NewKBService(reposet.KnowledgeBases, clients.AuthCache, log)
	docs := services.NewDocumentService(access, reposet.KnowledgeBases, reposet.Documents, reposet.Chunks, reposet.IngestionRuns, clients.Blobs, clients.Index, log)
	chat := services.NewChatService(access, reposet.Conversations, reposet.Messages, log)

	pipeline, err := ingestion.NewPipeline(reposet.Documents, reposet.Chunks, clients.Blobs, ingestion.NewParserRegistry(), embedding, clients.Index, log)
	if err != nil {
		return Services{}, fmt.Errorf("init ingestion pipeline: %w", err)
	}
	worker := services.NewIngestWorker(reposet.IngestionRuns, reposet.Documents, pipeline, log)

	return Services{
		Access:       access,
		Embedding:    embedding,
		Retrieval:    retrieval,
		RAG:          rag,
		KBs:          kbs,
		Documents:    docs,
		Chat:         chat,
		IngestWorker: worker,
		Provenance:   provenance,
	}, nil
}
