package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/clients/cache"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/repos"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

// AccessService is the security boundary for reads. Authorization denial
// is always the empty set, never an error: callers cannot distinguish
// "KB does not exist" from "KB is above your clearance".
type AccessService interface {
	// AuthorizedKnowledgeBases returns every KB id the principal may read.
	AuthorizedKnowledgeBases(ctx context.Context, principal types.Principal) ([]uuid.UUID, error)

	// FilterRequested intersects the requested KB ids with the authorized
	// set. An empty request means "everything authorized".
	FilterRequested(ctx context.Context, principal types.Principal, requested []uuid.UUID) ([]uuid.UUID, error)

	// CanReadDocument applies the per-document clearance check on top of
	// KB-level authorization. Both gates must pass.
	CanReadDocument(ctx context.Context, principal types.Principal, doc *types.Document) (bool, error)
}

type accessService struct {
	log   *logger.Logger
	kbs   repos.KnowledgeBaseRepo
	cache cache.AuthCache
}

func NewAccessService(kbs repos.KnowledgeBaseRepo, authCache cache.AuthCache, baseLog *logger.Logger) AccessService {
	return &accessService{
		log:   baseLog.With("service", "AccessService"),
		kbs:   kbs,
		cache: authCache,
	}
}

func (s *accessService) AuthorizedKnowledgeBases(ctx context.Context, principal types.Principal) ([]uuid.UUID, error) {
	if !principal.Clearance.Valid() {
		return []uuid.UUID{}, nil
	}

	if ids, ok := s.cache.GetAuthorizedKBs(ctx, principal.ID); ok {
		return ids, nil
	}

	kbs, err := s.kbs.GetAuthorized(ctx, nil, principal)
	if err != nil {
		return nil, fmt.Errorf("load authorized knowledge bases: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(kbs))
	for _, kb := range kbs {
		ids = append(ids, kb.ID)
	}

	s.cache.SetAuthorizedKBs(ctx, principal.ID, ids)
	return ids, nil
}

func (s *accessService) FilterRequested(ctx context.Context, principal types.Principal, requested []uuid.UUID) ([]uuid.UUID, error) {
	authorized, err := s.AuthorizedKnowledgeBases(ctx, principal)
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return authorized, nil
	}

	allowed := make(map[uuid.UUID]struct{}, len(authorized))
	for _, id := range authorized {
		allowed[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(requested))
	seen := make(map[uuid.UUID]struct{}, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *accessService) CanReadDocument(ctx context.Context, principal types.Principal, doc *types.Document) (bool, error) {
	if doc == nil {
		return false, nil
	}
	if !principal.CanRead(doc.Clearance) {
		return false, nil
	}
	authorized, err := s.AuthorizedKnowledgeBases(ctx, principal)
	if err != nil {
		return false, err
	}
	for _, id := range authorized {
		if id == doc.KBID {
			return true, nil
		}
	}
	return false, nil
}
