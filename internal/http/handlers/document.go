package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/http/middleware"
	"github.com/kestrelworks/aegiskb-backend/internal/http/response"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/services"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
)

const maxUploadBytes = 64 << 20

type DocumentHandler struct {
	log  *logger.Logger
	docs services.DocumentService
}

func NewDocumentHandler(docs services.DocumentService, baseLog *logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		log:  baseLog.With("handler", "DocumentHandler"),
		docs: docs,
	}
}

// Upload accepts multipart/form-data with a "file" part plus "clearance"
// (level name or number). The KB comes from the route.
func (h *DocumentHandler) Upload(c *gin.Context) {
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
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	defer file.Close()

	clearance, err := parseClearanceField(c.Request.FormValue("clearance"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_clearance", err)
		return
	}

	doc, err := h.docs.Upload(c.Request.Context(), principal, services.UploadRequest{
		KBID:      kbID,
		Filename:  header.Filename,
		MimeType:  header.Header.Get("Content-Type"),
		Clearance: clearance,
		Content:   file,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondCreated(c, doc)
}

func (h *DocumentHandler) ListByKB(c *gin.Context) {
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
	docs, err := h.docs.ListByKB(c.Request.Context(), principal, kbID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"documents": docs})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	detail, err := h.docs.Get(c.Request.Context(), principal, docID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

func (h *DocumentHandler) Reingest(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	run, err := h.docs.Reingest(c.Request.Context(), principal, docID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, run)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := h.docs.Delete(c.Request.Context(), principal, docID); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": docID})
}

func parseClearanceField(raw string) (types.Clearance, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("clearance required")
	}
	if n, err := strconv.Atoi(raw); err == nil {
		level := types.Clearance(n)
		if !level.Valid() {
			return 0, fmt.Errorf("unknown clearance level %q", raw)
		}
		return level, nil
	}
	return types.ParseClearance(strings.ToUpper(raw))
}
