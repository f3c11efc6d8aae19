package batches

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/claims"
	"claims-backend/internal/shared/server/middleware"
	"claims-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the batch service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches batch routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/batches", h.createBatch)
	rg.GET("/batches", h.listBatches)
	rg.GET("/batches/:id", h.getBatch)
	rg.POST("/batches/:id/cancel", h.cancelBatch)
	rg.GET("/batches/:id/analyses", h.listAnalyses)
}

type createBatchRequest struct {
	FolderID   string `json:"folderId"`
	FolderName string `json:"folderName"`
}

func (h *Handler) createBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Validation(c, "invalid request body")
		return
	}
	if req.FolderID == "" {
		respond.Validation(c, "folderId is required", respond.FieldIssue{Field: "folderId", Issue: "required"})
		return
	}

	batch, err := h.Svc.StartBatch(c.Request.Context(), middleware.OwnerIDFromContext(c), req.FolderID, req.FolderName)
	if err != nil {
		h.fail(c, err, "failed to start batch")
		return
	}
	c.Set(middleware.BatchIDKey, batch.ID)
	respond.Accepted(c, gin.H{
		"batchId": batch.ID,
		"status":  batch.Status,
	})
}

func (h *Handler) listBatches(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	list, err := h.Svc.List(c.Request.Context(), middleware.OwnerIDFromContext(c), limit, offset)
	if err != nil {
		h.fail(c, err, "failed to list batches")
		return
	}
	if list == nil {
		list = []claims.Batch{}
	}
	respond.OK(c, respond.Page[claims.Batch]{Items: list, Limit: limit, Offset: offset})
}

func (h *Handler) getBatch(c *gin.Context) {
	batchID := c.Param("id")
	c.Set(middleware.BatchIDKey, batchID)
	batch, err := h.Svc.Get(c.Request.Context(), middleware.OwnerIDFromContext(c), batchID)
	if err != nil {
		h.fail(c, err, "failed to fetch batch")
		return
	}
	respond.OK(c, batch)
}

func (h *Handler) cancelBatch(c *gin.Context) {
	batchID := c.Param("id")
	c.Set(middleware.BatchIDKey, batchID)
	batch, err := h.Svc.CancelBatch(c.Request.Context(), middleware.OwnerIDFromContext(c), batchID)
	if err != nil {
		h.fail(c, err, "failed to cancel batch")
		return
	}
	respond.Accepted(c, batch)
}

func (h *Handler) listAnalyses(c *gin.Context) {
	batchID := c.Param("id")
	c.Set(middleware.BatchIDKey, batchID)
	details, err := h.Svc.ListAnalyses(c.Request.Context(), middleware.OwnerIDFromContext(c), batchID)
	if err != nil {
		h.fail(c, err, "failed to list analyses")
		return
	}
	respond.OK(c, gin.H{"items": details})
}

func (h *Handler) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "batch not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Validation(c, err.Error())
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", message, nil)
	}
}

func pageParams(c *gin.Context) (int, int, bool) {
	limit, offset := 20, 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 100 {
			respond.Validation(c, "limit must be between 1 and 100", respond.FieldIssue{Field: "limit", Issue: "out_of_range"})
			return 0, 0, false
		}
		limit = v
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			respond.Validation(c, "offset must be non-negative", respond.FieldIssue{Field: "offset", Issue: "out_of_range"})
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}
