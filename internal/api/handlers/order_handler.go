package handlers

import (
	"net/http"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/service"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	engine *service.Engine
}

func NewOrderHandler(engine *service.Engine) *OrderHandler {
	return &OrderHandler{engine: engine}
}

type validateTransitionRequest struct {
	Current string `json:"current" binding:"required"`
	Target  string `json:"target" binding:"required"`
}

// ValidateTransition answers whether current -> target is legal. A rejected
// pair is still a 200: the verdict carries the reason.
func (h *OrderHandler) ValidateTransition(c *gin.Context) {
	var req validateTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.engine.ValidateTransition(req.Current, req.Target))
}

type selectionRequest struct {
	Selection domain.SelectionDescriptor `json:"selection"`
}

func (h *OrderHandler) ResolveSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resolved, err := h.engine.Resolver.Resolve(c.Request.Context(), normalizeSelection(req.Selection))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

type bulkStatusRequest struct {
	Selection       domain.SelectionDescriptor `json:"selection"`
	TargetStatus    string                     `json:"target_status" binding:"required"`
	ArrangeShipment bool                       `json:"arrange_shipment"`
	RequireGateway  bool                       `json:"require_gateway"`
}

func (h *OrderHandler) BulkStatus(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.engine.Bulk.Execute(c.Request.Context(), service.BulkStatusRequest{
		Selection:       normalizeSelection(req.Selection),
		TargetStatus:    parseStatusLabel(req.TargetStatus),
		ArrangeShipment: req.ArrangeShipment,
		RequireGateway:  req.RequireGateway,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type transitionRequest struct {
	TargetStatus string `json:"target_status" binding:"required"`
}

func (h *OrderHandler) TransitionOrder(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.engine.Bulk.TransitionOrder(c.Request.Context(), c.Param("id"), parseStatusLabel(req.TargetStatus))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.engine.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) AllowedTransitions(c *gin.Context) {
	allowed, err := h.engine.AllowedTransitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, allowed)
}

type returnRequest struct {
	Items        []domain.ReturnLine `json:"items"`
	Note         string              `json:"note"`
	TargetStatus string              `json:"target_status"`
}

func (h *OrderHandler) ProcessReturn(c *gin.Context) {
	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var target domain.Status
	if req.TargetStatus != "" {
		target = parseStatusLabel(req.TargetStatus)
	}
	result, err := h.engine.Returns.ProcessReturn(c.Request.Context(), domain.ReturnRequest{
		OrderID:      c.Param("id"),
		Items:        req.Items,
		Note:         req.Note,
		TargetStatus: target,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type verifyReturnRequest struct {
	Verified *bool  `json:"verified" binding:"required"`
	Notes    string `json:"notes"`
}

func (h *OrderHandler) VerifyReturn(c *gin.Context) {
	var req verifyReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.engine.Returns.VerifyReturn(c.Request.Context(), c.Param("id"), *req.Verified, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) OrderLedger(c *gin.Context) {
	entries, err := h.engine.OrderLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id"), "entries": entries})
}

func (h *OrderHandler) StockBalance(c *gin.Context) {
	balance, err := h.engine.StockBalance(c.Request.Context(), c.Param("sku"), c.Query("warehouse"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// normalizeSelection upper-cases status and channel labels in a filter.
func normalizeSelection(sel domain.SelectionDescriptor) domain.SelectionDescriptor {
	if sel.Filter == nil {
		return sel
	}
	f := *sel.Filter
	if len(f.Statuses) > 0 {
		statuses := make([]domain.Status, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = parseStatusLabel(string(s))
		}
		f.Statuses = statuses
	}
	if f.Channel != "" {
		f.Channel, _ = domain.ParseChannel(string(f.Channel))
	}
	sel.Filter = &f
	return sel
}
