package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelworks/aegiskb-backend/internal/graph"
	"github.com/kestrelworks/aegiskb-backend/internal/http/middleware"
	"github.com/kestrelworks/aegiskb-backend/internal/http/response"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/services"
)

type GraphHandler struct {
	log   *logger.Logger
	docs  services.DocumentService
	store *graph.ProvenanceStore
}

func NewGraphHandler(docs services.DocumentService, store *graph.ProvenanceStore, baseLog *logger.Logger) *GraphHandler {
	return &GraphHandler{
		log:   baseLog.With("handler", "GraphHandler"),
		docs:  docs,
		store: store,
	}
}

// DocumentNeighborhood lists the answers that cited a document. The
// document visibility check runs first so the graph never reveals
// material the caller cannot read.
func (h *GraphHandler) DocumentNeighborhood(c *gin.Context) {
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
	if _, err := h.docs.Get(c.Request.Context(), principal, docID); err != nil {
		respondServiceError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	neighborhood, err := h.store.DocumentNeighborhood(c.Request.Context(), docID, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "graph_query_failed", err)
		return
	}
	response.RespondOK(c, neighborhood)
}
