package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/clients/cache"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

type fakeKBRepo struct {
	authorized map[uuid.UUID][]*types.KnowledgeBase
	calls      int
}

func (f *fakeKBRepo) Create(_ context.Context, _ *gorm.DB, kb *types.KnowledgeBase, _ []*types.KBAccessEntry) (*types.KnowledgeBase, error) {
	return kb, nil
}
func (f *fakeKBRepo) GetByID(_ context.Context, _ *gorm.DB, _ uuid.UUID) (*types.KnowledgeBase, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeKBRepo) GetAll(_ context.Context, _ *gorm.DB) ([]*types.KnowledgeBase, error) {
	return nil, nil
}
func (f *fakeKBRepo) UpdateFields(_ context.Context, _ *gorm.DB, _ uuid.UUID, _ map[string]any) error {
	return nil
}
func (f *fakeKBRepo) Delete(_ context.Context, _ *gorm.DB, _ uuid.UUID) error { return nil }
func (f *fakeKBRepo) ReplaceACLs(_ context.Context, _ *gorm.DB, _ uuid.UUID, _ []*types.KBAccessEntry) error {
	return nil
}

func (f *fakeKBRepo) GetAuthorized(_ context.Context, _ *gorm.DB, p types.Principal) ([]*types.KnowledgeBase, error) {
	f.calls++
	return f.authorized[p.ID], nil
}

type recordingCache struct {
	entries map[uuid.UUID][]uuid.UUID
	sets    int
	hits    int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[uuid.UUID][]uuid.UUID)}
}

func (c *recordingCache) GetAuthorizedKBs(_ context.Context, principalID uuid.UUID) ([]uuid.UUID, bool) {
	ids, ok := c.entries[principalID]
	if ok {
		c.hits++
	}
	return ids, ok
}

func (c *recordingCache) SetAuthorizedKBs(_ context.Context, principalID uuid.UUID, kbIDs []uuid.UUID) {
	c.sets++
	c.entries[principalID] = kbIDs
}

func (c *recordingCache) InvalidateAll(context.Context) {
	c.entries = make(map[uuid.UUID][]uuid.UUID)
}

func (c *recordingCache) Close() error { return nil }

func kbWithID(id uuid.UUID) *types.KnowledgeBase {
	return &types.KnowledgeBase{ID: id, Name: "kb"}
}

func TestAuthorizedKnowledgeBasesUsesCache(t *testing.T) {
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceInternal}
	kbID := uuid.New()
	repo := &fakeKBRepo{authorized: map[uuid.UUID][]*types.KnowledgeBase{
		principal.ID: {kbWithID(kbID)},
	}}
	rc := newRecordingCache()
	svc := NewAccessService(repo, rc, logger.NewNop())
	ctx := context.Background()

	first, err := svc.AuthorizedKnowledgeBases(ctx, principal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 1 || first[0] != kbID {
		t.Fatalf("want [%s], got %v", kbID, first)
	}

	second, err := svc.AuthorizedKnowledgeBases(ctx, principal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("want 1 kb, got %d", len(second))
	}
	if repo.calls != 1 {
		t.Fatalf("want 1 repo query, got %d", repo.calls)
	}
	if rc.hits != 1 {
		t.Fatalf("want 1 cache hit, got %d", rc.hits)
	}
}

func TestAuthorizedKnowledgeBasesInvalidClearanceDenied(t *testing.T) {
	principal := types.Principal{ID: uuid.New(), Clearance: types.Clearance(9)}
	repo := &fakeKBRepo{authorized: map[uuid.UUID][]*types.KnowledgeBase{}}
	svc := NewAccessService(repo, cache.NewNoop(), logger.NewNop())

	ids, err := svc.AuthorizedKnowledgeBases(context.Background(), principal)
	if err != nil {
		t.Fatalf("denial must not be an error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("want empty set, got %v", ids)
	}
	if repo.calls != 0 {
		t.Fatal("invalid clearance must short-circuit before the database")
	}
}

func TestFilterRequested(t *testing.T) {
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceSecret}
	kbA, kbB, kbDenied := uuid.New(), uuid.New(), uuid.New()
	repo := &fakeKBRepo{authorized: map[uuid.UUID][]*types.KnowledgeBase{
		principal.ID: {kbWithID(kbA), kbWithID(kbB)},
	}}
	svc := NewAccessService(repo, cache.NewNoop(), logger.NewNop())
	ctx := context.Background()

	cases := []struct {
		name      string
		requested []uuid.UUID
		want      int
	}{
		{name: "empty request means everything authorized", requested: nil, want: 2},
		{name: "intersection drops unauthorized", requested: []uuid.UUID{kbA, kbDenied}, want: 1},
		{name: "all unauthorized yields empty set", requested: []uuid.UUID{kbDenied}, want: 0},
		{name: "duplicates collapse", requested: []uuid.UUID{kbA, kbA}, want: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.FilterRequested(ctx, principal, tc.requested)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("want %d ids, got %v", tc.want, got)
			}
		})
	}
}

func TestCanReadDocumentDoubleGate(t *testing.T) {
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceInternal}
	kbID := uuid.New()
	repo := &fakeKBRepo{authorized: map[uuid.UUID][]*types.KnowledgeBase{
		principal.ID: {kbWithID(kbID)},
	}}
	svc := NewAccessService(repo, cache.NewNoop(), logger.NewNop())
	ctx := context.Background()

	cases := []struct {
		name string
		doc  *types.Document
		want bool
	}{
		{
			name: "authorized kb and dominated clearance",
			doc:  &types.Document{KBID: kbID, Clearance: types.ClearanceInternal},
			want: true,
		},
		{
			name: "document above principal clearance",
			doc:  &types.Document{KBID: kbID, Clearance: types.ClearanceSecret},
			want: false,
		},
		{
			name: "unauthorized kb",
			doc:  &types.Document{KBID: uuid.New(), Clearance: types.ClearanceUnclassified},
			want: false,
		},
		{
			name: "nil document",
			doc:  nil,
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.CanReadDocument(ctx, principal, tc.doc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("want=%v got=%v", tc.want, got)
			}
		})
	}
}
