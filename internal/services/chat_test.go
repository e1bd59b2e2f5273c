package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

func newChatFixture(authorized []uuid.UUID) (ChatService, *fakeConvRepo, *fakeMsgRepo) {
	convs := &fakeConvRepo{convs: make(map[uuid.UUID]*types.Conversation)}
	msgs := &fakeMsgRepo{}
	svc := NewChatService(&stubAccess{authorized: authorized}, convs, msgs, logger.NewNop())
	return svc, convs, msgs
}

func TestCreateConversationSnapshotsScope(t *testing.T) {
	kbA, kbB, kbC := uuid.New(), uuid.New(), uuid.New()
	svc, _, _ := newChatFixture([]uuid.UUID{kbA, kbB})
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceInternal}
	ctx := context.Background()

	// kbC is outside the authorized set and must not survive the snapshot.
	conv, err := svc.CreateConversation(ctx, principal, CreateConversationRequest{
		Title: "incident review",
		KBIDs: []uuid.UUID{kbA, kbC},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var bound []uuid.UUID
	if err := json.Unmarshal([]byte(conv.BoundKBIDs), &bound); err != nil {
		t.Fatalf("decode bound kbs: %v", err)
	}
	if len(bound) != 1 || bound[0] != kbA {
		t.Fatalf("want scope [%s], got %v", kbA, bound)
	}
	if conv.Title != "incident review" {
		t.Fatalf("want title preserved, got %q", conv.Title)
	}

	// Empty request defaults to the full authorized set.
	conv, err = svc.CreateConversation(ctx, principal, CreateConversationRequest{})
	if err != nil {
		t.Fatalf("create with default scope: %v", err)
	}
	bound = nil
	if err := json.Unmarshal([]byte(conv.BoundKBIDs), &bound); err != nil {
		t.Fatalf("decode bound kbs: %v", err)
	}
	if len(bound) != 2 {
		t.Fatalf("want full authorized set, got %v", bound)
	}
	if conv.Title != "New conversation" {
		t.Fatalf("want default title, got %q", conv.Title)
	}
}

func TestCreateConversationRejectsEmptyScope(t *testing.T) {
	svc, _, _ := newChatFixture(nil)
	principal := types.Principal{ID: uuid.New(), Clearance: types.ClearanceInternal}

	if _, err := svc.CreateConversation(context.Background(), principal, CreateConversationRequest{
		KBIDs: []uuid.UUID{uuid.New()},
	}); err == nil {
		t.Fatal("want error when no accessible knowledge bases remain")
	}
}

func TestConversationOwnershipScoping(t *testing.T) {
	kb := uuid.New()
	svc, _, msgs := newChatFixture([]uuid.UUID{kb})
	owner := types.Principal{ID: uuid.New(), Clearance: types.ClearanceInternal}
	other := types.Principal{ID: uuid.New(), Clearance: types.ClearanceSecret}
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, owner, CreateConversationRequest{Title: "mine"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	msgs.messages = append(msgs.messages, &types.Message{
		ID: uuid.New(), ConversationID: conv.ID, Role: types.RoleUser, Content: "hello",
	})

	if _, err := svc.GetConversation(ctx, other, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign get: want ErrNotFound, got %v", err)
	}
	if err := svc.RenameConversation(ctx, other, conv.ID, "stolen"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign rename: want ErrNotFound, got %v", err)
	}
	if err := svc.DeleteConversation(ctx, other, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete: want ErrNotFound, got %v", err)
	}

	detail, err := svc.GetConversation(ctx, owner, conv.ID)
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if len(detail.Messages) != 1 || detail.Messages[0].Content != "hello" {
		t.Fatalf("want transcript with one message, got %+v", detail.Messages)
	}
	if err := svc.DeleteConversation(ctx, owner, conv.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestSubmitFeedback(t *testing.T) {
	kb := uuid.New()
	svc, convs, msgs := newChatFixture([]uuid.UUID{kb})
	owner := types.Principal{ID: uuid.New(), Clearance: types.ClearanceInternal}
	other := types.Principal{ID: uuid.New(), Clearance: types.ClearanceInternal}
	ctx := context.Background()

	conv := &types.Conversation{ID: uuid.New(), UserID: owner.ID}
	convs.convs[conv.ID] = conv
	userMsg := &types.Message{ID: uuid.New(), ConversationID: conv.ID, Role: types.RoleUser, Content: "q"}
	asstMsg := &types.Message{ID: uuid.New(), ConversationID: conv.ID, Role: types.RoleAssistant, Content: "a"}
	msgs.messages = append(msgs.messages, userMsg, asstMsg)

	fb, err := svc.SubmitFeedback(ctx, owner, FeedbackRequest{MessageID: asstMsg.ID, Score: -1, Comment: " wrong citation "})
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if fb.Score != -1 || fb.Comment != "wrong citation" {
		t.Fatalf("want score -1 with trimmed comment, got %+v", fb)
	}

	if _, err := svc.SubmitFeedback(ctx, owner, FeedbackRequest{MessageID: asstMsg.ID, Score: 5}); err == nil {
		t.Fatal("want error for out-of-range score")
	}
	if _, err := svc.SubmitFeedback(ctx, owner, FeedbackRequest{MessageID: userMsg.ID, Score: 1}); err == nil {
		t.Fatal("want error for feedback on a user message")
	}
	if _, err := svc.SubmitFeedback(ctx, other, FeedbackRequest{MessageID: asstMsg.ID, Score: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign feedback: want ErrNotFound, got %v", err)
	}
	if len(msgs.feedback) != 1 {
		t.Fatalf("want exactly 1 recorded feedback, got %d", len(msgs.feedback))
	}
}
