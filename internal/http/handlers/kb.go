package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/http/middleware"
	"github.com/kestrelworks/aegiskb-backend/internal/http/response"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/services"
)

type KBHandler struct {
	log *logger.Logger
	kbs services.KBService
}

func NewKBHandler(kbs services.KBService, baseLog *logger.Logger) *KBHandler {
	return &KBHandler{
		log: baseLog.With("handler", "KBHandler"),
		kbs: kbs,
	}
}

func (h *KBHandler) Create(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req services.CreateKBRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	kb, err := h.kbs.Create(c.Request.Context(), principal, req)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "create_failed", err)
		return
	}
	response.RespondCreated(c, kb)
}

func (h *KBHandler) List(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	kbs, err := h.kbs.ListAuthorized(c.Request.Context(), principal)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"knowledge_bases": kbs})
}

func (h *KBHandler) Get(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	kbID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	kb, err := h.kbs.Get(c.Request.Context(), principal, kbID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, kb)
}

func (h *KBHandler) Update(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	kbID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	kb, err := h.kbs.Update(c.Request.Context(), principal, kbID, updates)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, kb)
}

func (h *KBHandler) ReplaceACLs(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	kbID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var body struct {
		ACLs []services.ACLSpec `json:"acls"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	kb, err := h.kbs.ReplaceACLs(c.Request.Context(), principal, kbID, body.ACLs)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, kb)
}

func (h *KBHandler) Delete(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	kbID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := h.kbs.Delete(c.Request.Context(), principal, kbID); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": kbID})
}

// respondServiceError maps service failures onto the wire. ErrNotFound
// covers authorization denials too: denied and missing must return the
// same status so existence never leaks.
func respondServiceError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrNotFound) {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("not found"))
		return
	}
	response.RespondError(c, http.StatusBadRequest, "request_failed", err)
}
