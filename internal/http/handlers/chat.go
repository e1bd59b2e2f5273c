package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/http/middleware"
	"github.com/kestrelworks/aegiskb-backend/internal/http/response"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/services"
)

type ChatHandler struct {
	log  *logger.Logger
	chat services.ChatService
	rag  services.RAGService
}

func NewChatHandler(chat services.ChatService, rag services.RAGService, baseLog *logger.Logger) *ChatHandler {
	return &ChatHandler{
		log:  baseLog.With("handler", "ChatHandler"),
		chat: chat,
		rag:  rag,
	}
}

func (h *ChatHandler) CreateConversation(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req services.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	conv, err := h.chat.CreateConversation(c.Request.Context(), principal, req)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "create_failed", err)
		return
	}
	response.RespondCreated(c, conv)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	convs, err := h.chat.ListConversations(c.Request.Context(), principal, offset, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": convs})
}

func (h *ChatHandler) GetConversation(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	detail, err := h.chat.GetConversation(c.Request.Context(), principal, convID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

func (h *ChatHandler) RenameConversation(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := h.chat.RenameConversation(c.Request.Context(), principal, convID, body.Title); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"renamed": convID})
}

func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := h.chat.DeleteConversation(c.Request.Context(), principal, convID); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": convID})
}

// Ask runs one full retrieval-augmented turn in the conversation.
func (h *ChatHandler) Ask(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var body struct {
		Query string `json:"query"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		response.RespondError(c, http.StatusBadRequest, "empty_query", errors.New("query required"))
		return
	}
	msg, err := h.rag.Ask(c.Request.Context(), principal, convID, body.Query)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, msg)
}

func (h *ChatHandler) SubmitFeedback(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req services.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	fb, err := h.chat.SubmitFeedback(c.Request.Context(), principal, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondCreated(c, fb)
}
