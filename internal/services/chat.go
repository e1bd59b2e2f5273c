package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/repos"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

const maxConversationTitle = 200

// CreateConversationRequest opens a new chat session. KBIDs is the
// requested retrieval scope; it is intersected with the caller's
// authorized set and frozen into the conversation at creation.
type CreateConversationRequest struct {
	Title string      `json:"title"`
	KBIDs []uuid.UUID `json:"kb_ids"`
}

// ConversationDetail is one conversation plus its full ordered transcript.
type ConversationDetail struct {
	Conversation *types.Conversation `json:"conversation"`
	Messages     []*types.Message    `json:"messages"`
}

// FeedbackRequest records a verdict on one assistant message.
type FeedbackRequest struct {
	MessageID uuid.UUID `json:"message_id"`
	Score     int16     `json:"score"`
	Comment   string    `json:"comment"`
}

// ChatService owns conversation lifecycle and per-message feedback. All
// reads and mutations are scoped to the calling principal; other users'
// conversations are indistinguishable from missing ones.
type ChatService interface {
	CreateConversation(ctx context.Context, principal types.Principal, req CreateConversationRequest) (*types.Conversation, error)
	GetConversation(ctx context.Context, principal types.Principal, conversationID uuid.UUID) (*ConversationDetail, error)
	ListConversations(ctx context.Context, principal types.Principal, offset, limit int) ([]*types.Conversation, error)
	RenameConversation(ctx context.Context, principal types.Principal, conversationID uuid.UUID, title string) error
	DeleteConversation(ctx context.Context, principal types.Principal, conversationID uuid.UUID) error
	SubmitFeedback(ctx context.Context, principal types.Principal, req FeedbackRequest) (*types.Feedback, error)
}

type chatService struct {
	log    *logger.Logger
	access AccessService
	convs  repos.ConversationRepo
	msgs   repos.MessageRepo
}

func NewChatService(access AccessService, convs repos.ConversationRepo, msgs repos.MessageRepo, baseLog *logger.Logger) ChatService {
	return &chatService{
		log:    baseLog.With("service", "ChatService"),
		access: access,
		convs:  convs,
		msgs:   msgs,
	}
}

// CreateConversation snapshots the retrieval scope up front. Later ACL or
// clearance changes still apply at query time: the stored set is only an
// upper bound, every turn re-intersects it with the live authorized set.
func (s *chatService) CreateConversation(ctx context.Context, principal types.Principal, req CreateConversationRequest) (*types.Conversation, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New conversation"
	}
	if utf8.RuneCountInString(title) > maxConversationTitle {
		title = string([]rune(title)[:maxConversationTitle])
	}

	bound, err := s.access.FilterRequested(ctx, principal, req.KBIDs)
	if err != nil {
		return nil, err
	}
	if len(bound) == 0 {
		return nil, fmt.Errorf("no accessible knowledge bases in requested scope")
	}
	encoded, err := json.Marshal(bound)
	if err != nil {
		return nil, fmt.Errorf("encode kb scope: %w", err)
	}

	conv, err := s.convs.Create(ctx, nil, &types.Conversation{
		ID:         uuid.New(),
		UserID:     principal.ID,
		Title:      title,
		BoundKBIDs: datatypes.JSON(encoded),
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.log.Info("Conversation created", "conversation_id", conv.ID, "bound_kbs", len(bound))
	return conv, nil
}

func (s *chatService) GetConversation(ctx context.Context, principal types.Principal, conversationID uuid.UUID) (*ConversationDetail, error) {
	conv, err := s.convs.GetByIDForUser(ctx, nil, conversationID, principal.ID)
	if err != nil {
		return nil, ErrNotFound
	}
	messages, err := s.msgs.GetByConversationID(ctx, nil, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return &ConversationDetail{Conversation: conv, Messages: messages}, nil
}

func (s *chatService) ListConversations(ctx context.Context, principal types.Principal, offset, limit int) ([]*types.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.convs.GetByUserID(ctx, nil, principal.ID, offset, limit)
}

func (s *chatService) RenameConversation(ctx context.Context, principal types.Principal, conversationID uuid.UUID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title required")
	}
	if _, err := s.convs.GetByIDForUser(ctx, nil, conversationID, principal.ID); err != nil {
		return ErrNotFound
	}
	return s.convs.UpdateTitle(ctx, nil, conversationID, title)
}

func (s *chatService) DeleteConversation(ctx context.Context, principal types.Principal, conversationID uuid.UUID) error {
	if err := s.convs.DeleteForUser(ctx, nil, conversationID, principal.ID); err != nil {
		return ErrNotFound
	}
	s.log.Info("Conversation deleted", "conversation_id", conversationID)
	return nil
}

// SubmitFeedback accepts a verdict only on assistant messages inside the
// caller's own conversations.
func (s *chatService) SubmitFeedback(ctx context.Context, principal types.Principal, req FeedbackRequest) (*types.Feedback, error) {
	if req.Score < -1 || req.Score > 1 {
		return nil, fmt.Errorf("score must be -1, 0 or 1")
	}

	msg, err := s.msgs.GetByID(ctx, nil, req.MessageID)
	if err != nil {
		return nil, ErrNotFound
	}
	if _, err := s.convs.GetByIDForUser(ctx, nil, msg.ConversationID, principal.ID); err != nil {
		return nil, ErrNotFound
	}
	if msg.Role != types.RoleAssistant {
		return nil, fmt.Errorf("feedback applies to assistant messages only")
	}

	fb, err := s.msgs.CreateFeedback(ctx, nil, &types.Feedback{
		ID:        uuid.New(),
		MessageID: msg.ID,
		Score:     req.Score,
		Comment:   strings.TrimSpace(req.Comment),
	})
	if err != nil {
		return nil, fmt.Errorf("record feedback: %w", err)
	}
	s.log.Info("Feedback recorded", "message_id", msg.ID, "score", fb.Score)
	return fb, nil
}
