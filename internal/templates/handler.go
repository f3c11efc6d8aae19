package templates

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/claims"
	"claims-backend/internal/shared/server/middleware"
	"claims-backend/internal/shared/server/respond"
)

// Handler exposes template synthesis over HTTP.
type Handler struct {
	Synth *Synthesizer
}

// NewHandler constructs a Handler.
func NewHandler(synth *Synthesizer) *Handler {
	return &Handler{Synth: synth}
}

// RegisterRoutes attaches template routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/batches/:id/templates", h.synthesize)
	rg.GET("/templates", h.list)
}

type synthesizeRequest struct {
	Threshold      *float64 `json:"threshold"`
	IncludeHistory bool     `json:"includeHistory"`
	TemplateType   string   `json:"templateType"`
}

func (h *Handler) synthesize(c *gin.Context) {
	var req synthesizeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Validation(c, "invalid request body")
			return
		}
	}
	opts := Options{IncludeHistory: req.IncludeHistory, TemplateType: req.TemplateType}
	if req.Threshold != nil {
		if *req.Threshold <= 0 || *req.Threshold > 1 {
			respond.Validation(c, "threshold must be in (0, 1]", respond.FieldIssue{Field: "threshold", Issue: "out_of_range"})
			return
		}
		opts.Threshold = *req.Threshold
	}

	batchID := c.Param("id")
	c.Set(middleware.BatchIDKey, batchID)
	tmpl, err := h.Synth.Synthesize(c.Request.Context(), middleware.OwnerIDFromContext(c), batchID, opts)
	if err != nil {
		switch {
		case errors.Is(err, ErrBatchNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "batch not found", nil)
		case errors.Is(err, ErrEmptyCorpus):
			respond.Error(c, http.StatusConflict, "empty_corpus", "batch has no completed analyses", nil)
		case errors.Is(err, ErrInvalidThreshold):
			respond.Validation(c, err.Error())
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to synthesize template", nil)
		}
		return
	}
	respond.OK(c, tmpl)
}

func (h *Handler) list(c *gin.Context) {
	list, err := h.Synth.List(c.Request.Context(), middleware.OwnerIDFromContext(c), c.Query("type"))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list templates", nil)
		return
	}
	if list == nil {
		list = []claims.Template{}
	}
	respond.OK(c, gin.H{"items": list})
}
