package handlers

import (
	"net/http"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/service"
	"github.com/gin-gonic/gin"
)

type BatchHandler struct {
	planner *service.BatchPlanner
}

func NewBatchHandler(planner *service.BatchPlanner) *BatchHandler {
	return &BatchHandler{planner: planner}
}

type planRequest struct {
	Selection   domain.SelectionDescriptor `json:"selection"`
	MaxPerChunk int                        `json:"max_per_chunk"`
}

// CreatePlan resolves the selection once and stores the chunk membership.
func (h *BatchHandler) CreatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	plan, err := h.planner.Plan(c.Request.Context(), service.PlanRequest{
		Selection:   normalizeSelection(req.Selection),
		MaxPerChunk: req.MaxPerChunk,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (h *BatchHandler) GetPlan(c *gin.Context) {
	plan, err := h.planner.GetPlan(c.Request.Context(), c.Param("handle"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *BatchHandler) GetChunk(c *gin.Context) {
	index, ok := chunkIndex(c)
	if !ok {
		return
	}
	chunk, err := h.planner.GetChunk(c.Request.Context(), c.Param("handle"), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chunk)
}

func (h *BatchHandler) ExportChunk(c *gin.Context) {
	index, ok := chunkIndex(c)
	if !ok {
		return
	}
	result, err := h.planner.ExportChunk(c.Request.Context(), c.Param("handle"), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *BatchHandler) DiscardPlan(c *gin.Context) {
	if err := h.planner.DiscardPlan(c.Request.Context(), c.Param("handle")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func chunkIndex(c *gin.Context) (int, bool) {
	index, ok := parseNonNegativeInt(c.Param("index"))
	if !ok {
		respondError(c, domain.Validation(domain.ReasonInvalidRequest, "chunk index must be a non-negative integer"))
		return 0, false
	}
	return index, true
}
