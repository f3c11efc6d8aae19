package analyses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/claims"
	"claims-backend/internal/shared/server/middleware"
	"claims-backend/internal/shared/server/respond"
)

// Detail is an analysis with its classified missing elements.
type Detail struct {
	claims.Analysis
	MissingElements []claims.MissingElement `json:"missingElements"`
}

// Handler serves read access to analyses.
type Handler struct {
	Repo claims.AnalysisRepo
}

// NewHandler constructs a Handler.
func NewHandler(repo claims.AnalysisRepo) *Handler {
	return &Handler{Repo: repo}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/analyses/:id", h.getAnalysis)
}

func (h *Handler) getAnalysis(c *gin.Context) {
	ownerID := middleware.OwnerIDFromContext(c)
	analysisID := c.Param("id")
	c.Set(middleware.AnalysisIDKey, analysisID)

	analysis, err := h.Repo.GetAnalysis(c.Request.Context(), analysisID)
	if err != nil {
		if errors.Is(err, claims.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis", nil)
		return
	}
	if analysis.OwnerID != ownerID {
		respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		return
	}

	elements, err := h.Repo.ListMissingElements(c.Request.Context(), []string{analysis.ID})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch missing elements", nil)
		return
	}
	detail := Detail{Analysis: analysis, MissingElements: elements[analysis.ID]}
	if detail.MissingElements == nil {
		detail.MissingElements = []claims.MissingElement{}
	}
	respond.OK(c, detail)
}
