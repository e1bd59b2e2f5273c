package app

import (
	"fmt"

	"github.com/kestrelworks/aegiskb-backend/internal/clients/blob"
	"github.com/kestrelworks/aegiskb-backend/internal/clients/cache"
	"github.com/kestrelworks/aegiskb-backend/internal/clients/llm"
	"github.com/kestrelworks/aegiskb-backend/internal/db"
	"github.com/kestrelworks/aegiskb-backend/internal/graph"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/vectorindex"
)

type Clients struct {
	LLM       llm.Client
	Blobs     blob.Store
	AuthCache cache.AuthCache
	Index     vectorindex.Index
	Graph     *graph.Client
}

func wireClients(dbs *db.Service, log *logger.Logger) (Clients, error) {
	llmClient, err := llm.FromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init llm client: %w", err)
	}
	blobs, err := blob.FromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init blob store: %w", err)
	}
	authCache, err := cache.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init auth cache: %w", err)
	}
	index, err := vectorindex.FromEnv(dbs.DB(), dbs.Driver(), log)
	if err != nil {
		return Clients{}, fmt.Errorf("init vector index: %w", err)
	}
	graphClient, err := graph.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init graph client: %w", err)
	}
	return Clients{
		LLM:       llmClient,
		Blobs:     blobs,
		AuthCache: authCache,
		Index:     index,
		Graph:     graphClient,
	}, nil
}
