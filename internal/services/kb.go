package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/clients/cache"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/repos"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

// ACLSpec is one requested access entry for a knowledge base.
type ACLSpec struct {
	SubjectType types.SubjectType `json:"subject_type"`
	SubjectID   uuid.UUID         `json:"subject_id"`
	Permission  types.Permission  `json:"permission"`
}

// CreateKBRequest carries a new knowledge base plus its initial ACL set.
type CreateKBRequest struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	BaseClearance types.Clearance `json:"base_clearance"`
	ACLs          []ACLSpec       `json:"acls"`
}

// KBService owns knowledge base administration. Mutations require the
// owner or a MANAGER ACL entry, and every change that can alter who sees
// what drops the whole authorization cache.
type KBService interface {
	Create(ctx context.Context, principal types.Principal, req CreateKBRequest) (*types.KnowledgeBase, error)
	Get(ctx context.Context, principal types.Principal, kbID uuid.UUID) (*types.KnowledgeBase, error)
	ListAuthorized(ctx context.Context, principal types.Principal) ([]*types.KnowledgeBase, error)
	Update(ctx context.Context, principal types.Principal, kbID uuid.UUID, updates map[string]any) (*types.KnowledgeBase, error)
	ReplaceACLs(ctx context.Context, principal types.Principal, kbID uuid.UUID, entries []ACLSpec) (*types.KnowledgeBase, error)
	Delete(ctx context.Context, principal types.Principal, kbID uuid.UUID) error
}

type kbService struct {
	log   *logger.Logger
	kbs   repos.KnowledgeBaseRepo
	cache cache.AuthCache
}

func NewKBService(kbs repos.KnowledgeBaseRepo, authCache cache.AuthCache, baseLog *logger.Logger) KBService {
	return &kbService{
		log:   baseLog.With("service", "KBService"),
		kbs:   kbs,
		cache: authCache,
	}
}

func (s *kbService) Create(ctx context.Context, principal types.Principal, req CreateKBRequest) (*types.KnowledgeBase, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("name required")
	}
	if !req.BaseClearance.Valid() {
		return nil, fmt.Errorf("invalid base clearance %d", req.BaseClearance)
	}
	if !principal.CanRead(req.BaseClearance) {
		return nil, fmt.Errorf("cannot create a knowledge base above your own clearance")
	}

	kb := &types.KnowledgeBase{
		ID:            uuid.New(),
		Name:          name,
		Description:   strings.TrimSpace(req.Description),
		BaseClearance: req.BaseClearance,
		OwnerID:       principal.ID,
	}
	acls, err := buildACLEntries(kb.ID, req.ACLs)
	if err != nil {
		return nil, err
	}

	created, err := s.kbs.Create(ctx, nil, kb, acls)
	if err != nil {
		return nil, fmt.Errorf("create knowledge base: %w", err)
	}
	s.cache.InvalidateAll(ctx)
	s.log.Info("Knowledge base created", "kb_id", created.ID, "base_clearance", created.BaseClearance.String())
	return created, nil
}

func (s *kbService) Get(ctx context.Context, principal types.Principal, kbID uuid.UUID) (*types.KnowledgeBase, error) {
	kb, err := s.kbs.GetByID(ctx, nil, kbID)
	if err != nil {
		return nil, ErrNotFound
	}
	if !s.canRead(principal, kb) {
		return nil, ErrNotFound
	}
	if !s.canManage(principal, kb) {
		// Non-managers see the KB but not who else can.
		kb.ACLs = nil
	}
	return kb, nil
}

func (s *kbService) ListAuthorized(ctx context.Context, principal types.Principal) ([]*types.KnowledgeBase, error) {
	return s.kbs.GetAuthorized(ctx, nil, principal)
}

func (s *kbService) Update(ctx context.Context, principal types.Principal, kbID uuid.UUID, updates map[string]any) (*types.KnowledgeBase, error) {
	kb, err := s.manageableKB(ctx, principal, kbID)
	if err != nil {
		return nil, err
	}

	allowed := map[string]bool{"name": true, "description": true, "base_clearance": true, "is_archived": true, "settings": true}
	filtered := make(map[string]any, len(updates))
	for k, v := range updates {
		if !allowed[k] {
			return nil, fmt.Errorf("field %q is not updatable", k)
		}
		filtered[k] = v
	}
	if raw, ok := filtered["base_clearance"]; ok {
		level, err := coerceClearance(raw)
		if err != nil {
			return nil, err
		}
		if !principal.CanRead(level) {
			return nil, fmt.Errorf("cannot raise base clearance above your own")
		}
		filtered["base_clearance"] = level
	}
	if len(filtered) == 0 {
		return kb, nil
	}

	if err := s.kbs.UpdateFields(ctx, nil, kb.ID, filtered); err != nil {
		return nil, fmt.Errorf("update knowledge base: %w", err)
	}
	s.cache.InvalidateAll(ctx)
	return s.kbs.GetByID(ctx, nil, kb.ID)
}

// ReplaceACLs swaps the KB's entire ACL set. There is no entry-level
// patching: the caller states the full desired list every time.
func (s *kbService) ReplaceACLs(ctx context.Context, principal types.Principal, kbID uuid.UUID, entries []ACLSpec) (*types.KnowledgeBase, error) {
	kb, err := s.manageableKB(ctx, principal, kbID)
	if err != nil {
		return nil, err
	}

	acls, err := buildACLEntries(kb.ID, entries)
	if err != nil {
		return nil, err
	}
	if err := s.kbs.ReplaceACLs(ctx, nil, kb.ID, acls); err != nil {
		return nil, fmt.Errorf("replace acls: %w", err)
	}
	s.cache.InvalidateAll(ctx)
	s.log.Info("Knowledge base ACLs replaced", "kb_id", kb.ID, "entries", len(acls))
	return s.kbs.GetByID(ctx, nil, kb.ID)
}

func (s *kbService) Delete(ctx context.Context, principal types.Principal, kbID uuid.UUID) error {
	kb, err := s.manageableKB(ctx, principal, kbID)
	if err != nil {
		return err
	}
	if err := s.kbs.Delete(ctx, nil, kb.ID); err != nil {
		return fmt.Errorf("delete knowledge base: %w", err)
	}
	s.cache.InvalidateAll(ctx)
	s.log.Info("Knowledge base deleted", "kb_id", kb.ID)
	return nil
}

func (s *kbService) manageableKB(ctx context.Context, principal types.Principal, kbID uuid.UUID) (*types.KnowledgeBase, error) {
	kb, err := s.kbs.GetByID(ctx, nil, kbID)
	if err != nil {
		return nil, ErrNotFound
	}
	if !s.canRead(principal, kb) {
		return nil, ErrNotFound
	}
	if !s.canManage(principal, kb) {
		return nil, ErrNotFound
	}
	return kb, nil
}

func (s *kbService) canRead(principal types.Principal, kb *types.KnowledgeBase) bool {
	if !principal.CanRead(kb.BaseClearance) {
		return false
	}
	if kb.OwnerID == principal.ID {
		return true
	}
	for _, acl := range kb.ACLs {
		if aclMatches(acl, principal) {
			return true
		}
	}
	return false
}

func (s *kbService) canManage(principal types.Principal, kb *types.KnowledgeBase) bool {
	if kb.OwnerID == principal.ID {
		return true
	}
	for _, acl := range kb.ACLs {
		if acl.Permission == types.PermissionManager && aclMatches(acl, principal) {
			return true
		}
	}
	return false
}

func aclMatches(acl types.KBAccessEntry, principal types.Principal) bool {
	switch acl.SubjectType {
	case types.SubjectUser:
		return acl.SubjectID == principal.ID
	case types.SubjectRole:
		return acl.SubjectID == principal.RoleID
	case types.SubjectDepartment:
		return acl.SubjectID == principal.DepartmentID
	default:
		return false
	}
}

func buildACLEntries(kbID uuid.UUID, specs []ACLSpec) ([]*types.KBAccessEntry, error) {
	out := make([]*types.KBAccessEntry, 0, len(specs))
	for i, spec := range specs {
		switch spec.SubjectType {
		case types.SubjectUser, types.SubjectRole, types.SubjectDepartment:
		default:
			return nil, fmt.Errorf("acl %d: unknown subject type %q", i, spec.SubjectType)
		}
		switch spec.Permission {
		case types.PermissionRead, types.PermissionWrite, types.PermissionManager:
		case "":
			spec.Permission = types.PermissionRead
		default:
			return nil, fmt.Errorf("acl %d: unknown permission %q", i, spec.Permission)
		}
		if spec.SubjectID == uuid.Nil {
			return nil, fmt.Errorf("acl %d: subject id required", i)
		}
		out = append(out, &types.KBAccessEntry{
			ID:          uuid.New(),
			KBID:        kbID,
			SubjectType: spec.SubjectType,
			SubjectID:   spec.SubjectID,
			Permission:  spec.Permission,
		})
	}
	return out, nil
}

func coerceClearance(raw any) (types.Clearance, error) {
	switch v := raw.(type) {
	case types.Clearance:
		if !v.Valid() {
			return 0, fmt.Errorf("invalid clearance %d", v)
		}
		return v, nil
	case int:
		level := types.Clearance(v)
		if !level.Valid() {
			return 0, fmt.Errorf("invalid clearance %d", v)
		}
		return level, nil
	case float64:
		level := types.Clearance(int16(v))
		if !level.Valid() || float64(int16(v)) != v {
			return 0, fmt.Errorf("invalid clearance %v", v)
		}
		return level, nil
	case string:
		return types.ParseClearance(v)
	default:
		return 0, fmt.Errorf("invalid clearance value %v", raw)
	}
}
