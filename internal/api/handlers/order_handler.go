package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/fulfillment/internal/models"
	"example.com/backstage/services/fulfillment/internal/repositories"
	"example.com/backstage/services/fulfillment/internal/services"
	"example.com/backstage/services/fulfillment/internal/tracing"
)

// OrderHandler handles order and shipment HTTP requests
type OrderHandler struct {
	orderRepo       *repositories.OrderRepository
	trackingService *services.TrackingService
	tracer          tracing.Tracer
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(
	orderRepo *repositories.OrderRepository,
	trackingService *services.TrackingService,
	tracer tracing.Tracer,
) *OrderHandler {
	return &OrderHandler{
		orderRepo:       orderRepo,
		trackingService: trackingService,
		tracer:          tracer,
	}
}

// HandleListOrders lists orders with optional platform/status filters
func (h *OrderHandler) HandleListOrders(c *gin.Context) {
	filter := repositories.OrderFilter{
		Platform: c.Query("platform"),
		Status:   models.OrderStatus(c.Query("status")),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.StartTime = &since
	}

	orders, err := h.orderRepo.List(c, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// HandleGetOrder returns one order with its line items
func (h *OrderHandler) HandleGetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	order, err := h.orderRepo.GetByID(c, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to get order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

// ShipmentResponse bundles a shipment with its event history
type ShipmentResponse struct {
	Shipment *models.Shipment       `json:"shipment"`
	Events   []models.TrackingEvent `json:"events"`
}

// HandleGetShipment returns the shipment for an order with its events
func (h *OrderHandler) HandleGetShipment(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	shipment, events, err := h.trackingService.GetShipmentForOrder(c, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "shipment not found"})
			return
		}
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to get shipment")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ShipmentResponse{Shipment: shipment, Events: events})
}

// HandleRecordLabel records a shipping label for an order
func (h *OrderHandler) HandleRecordLabel(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-record-label")
	defer h.tracer.EndTransaction(txn)

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	var input services.LabelInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	shipment, err := h.trackingService.RecordLabelCreated(c, orderID, input)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to record label")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	c.JSON(http.StatusCreated, shipment)
}

// HandleRecordShipped marks an order's shipment as in transit
func (h *OrderHandler) HandleRecordShipped(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	shipment, err := h.trackingService.RecordShipped(c, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "shipment not found"})
			return
		}
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to record shipped")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, shipment)
}

// DeliveredRequest carries optional proof-of-delivery data
type DeliveredRequest struct {
	Signature string `json:"signature"`
}

// HandleRecordDelivered marks an order's shipment as delivered
func (h *OrderHandler) HandleRecordDelivered(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	var req DeliveredRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	shipment, err := h.trackingService.RecordDelivered(c, orderID, req.Signature)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "shipment not found"})
			return
		}
		log.Error().Err(err).Str("order_id", orderID.String()).Msg("Failed to record delivered")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, shipment)
}

// HandleRefreshTracking polls carriers for every shipment due for an update
func (h *OrderHandler) HandleRefreshTracking(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-refresh-tracking")
	defer h.tracer.EndTransaction(txn)

	result, err := h.trackingService.RefreshAll(c)
	if err != nil {
		log.Error().Err(err).Msg("Tracking refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RegisterRoutes registers the handler's routes
func (h *OrderHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/orders", h.HandleListOrders)
	router.GET("/orders/:id", h.HandleGetOrder)
	router.GET("/orders/:id/shipment", h.HandleGetShipment)
	router.POST("/orders/:id/label", h.HandleRecordLabel)
	router.POST("/orders/:id/shipped", h.HandleRecordShipped)
	router.POST("/orders/:id/delivered", h.HandleRecordDelivered)
	router.POST("/tracking/refresh", h.HandleRefreshTracking)
}
