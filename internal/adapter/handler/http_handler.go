package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ndquang2/shopstock/internal/core/domain"
	"github.com/ndquang2/shopstock/internal/core/service"
)

type HTTPHandler struct {
	inventory *service.InventoryService
	health    *service.HealthChecker
}

func NewHTTPHandler(inventory *service.InventoryService, health *service.HealthChecker) *HTTPHandler {
	return &HTTPHandler{inventory: inventory, health: health}
}

func (h *HTTPHandler) Register(r *gin.Engine) {
	r.GET("/", h.Home)
	r.GET("/live", h.Live)
	r.GET("/health", h.Health)
	r.GET("/enquire/:item_id", h.Enquire)
	r.GET("/checkout/:item_id", h.Checkout)
	r.POST("/checkout/:item_id", h.Checkout)
	r.GET("/checkout/:item_id/:qty", h.Checkout)
}

type enquireResponse struct {
	ItemID     string `json:"item_id"`
	InStock    bool   `json:"in_stock"`
	Stock      int    `json:"stock"`
	Source     string `json:"source"`
	Name       string `json:"name,omitempty"`
	PriceCents int    `json:"price_cents,omitempty"`
}

type orderPayload struct {
	ItemID         int `json:"item_id"`
	Qty            int `json:"qty"`
	UnitPriceCents int `json:"unit_price_cents"`
	TotalCents     int `json:"total_cents"`
}

type checkoutResponse struct {
	OK     bool          `json:"ok"`
	Order  *orderPayload `json:"order,omitempty"`
	NewQty *int          `json:"new_qty,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (h *HTTPHandler) Enquire(c *gin.Context) {
	av, err := h.inventory.Enquire(c.Request.Context(), c.Param("item_id"))
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "dependency error"})
	default:
		c.JSON(http.StatusOK, enquireResponse{
			ItemID:     av.ItemID,
			InStock:    av.InStock,
			Stock:      av.Quantity,
			Source:     av.Source,
			Name:       av.Name,
			PriceCents: av.PriceCents,
		})
	}
}

func (h *HTTPHandler) Checkout(c *gin.Context) {
	buyerID := c.Query("user")

	// qty comes from the path when present, else from the query string,
	// defaulting to a single unit.
	rawQty := c.Param("qty")
	if rawQty == "" {
		rawQty = c.DefaultQuery("qty", "1")
	}
	qty, err := strconv.Atoi(rawQty)
	if err != nil {
		qty = 1
	}

	result, err := h.inventory.Checkout(c.Request.Context(), buyerID, c.Param("item_id"), qty)
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		c.JSON(http.StatusBadRequest, checkoutResponse{Error: "bad request"})
	case errors.Is(err, domain.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, checkoutResponse{Error: "rate limited, try again in a few seconds"})
	case errors.Is(err, domain.ErrInsufficientStock):
		c.JSON(http.StatusConflict, checkoutResponse{Error: "out of stock"})
	case err != nil:
		c.JSON(http.StatusBadGateway, checkoutResponse{Error: "dependency error"})
	default:
		c.JSON(http.StatusOK, checkoutResponse{
			OK: true,
			Order: &orderPayload{
				ItemID:         result.Order.ItemID,
				Qty:            result.Order.Quantity,
				UnitPriceCents: result.Order.UnitPriceCents,
				TotalCents:     result.Order.TotalCents,
			},
			NewQty: &result.NewQuantity,
		})
	}
}

func (h *HTTPHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": h.health.Liveness()})
}

func (h *HTTPHandler) Health(c *gin.Context) {
	st := h.health.Readiness(c.Request.Context())

	status := http.StatusOK
	if !st.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ok":    st.OK,
		"redis": upDown(st.Cache),
		"db":    upDown(st.Store),
	})
}

func (h *HTTPHandler) Home(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":      "shopstock",
		"try_enquire":  "/enquire/I001 or /enquire/1",
		"try_checkout": "/checkout/I001?qty=2&user=u1",
		"health":       "/health",
		"live":         "/live",
		"metrics":      "/metrics",
	})
}

func upDown(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}
