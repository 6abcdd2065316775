package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/fulfillment/internal/services"
	"example.com/backstage/services/fulfillment/internal/tracing"
)

// SyncHandler handles sync-related HTTP requests
type SyncHandler struct {
	syncService *services.SyncService
	tracer      tracing.Tracer
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncService *services.SyncService, tracer tracing.Tracer) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		tracer:      tracer,
	}
}

// SyncRequest represents an on-demand sync request
type SyncRequest struct {
	Platform string `json:"platform"`
	FullSync bool   `json:"full_sync"`
}

// HandleTriggerSync runs a sync on demand, for one platform or all of them
func (h *SyncHandler) HandleTriggerSync(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-trigger-sync")
	defer h.tracer.EndTransaction(txn)

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "platform", req.Platform)
	h.tracer.AddAttribute(txn, "full_sync", req.FullSync)

	opts := services.SyncOptions{FullSync: req.FullSync}

	if req.Platform != "" {
		result, err := h.syncService.SyncPlatform(c, req.Platform, opts)
		if err != nil {
			log.Error().Err(err).Str("platform", req.Platform).Msg("Sync failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			h.tracer.RecordError(txn, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	results := h.syncService.SyncAll(c, opts)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// HandleListPlatforms lists the registered platforms
func (h *SyncHandler) HandleListPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": h.syncService.Platforms()})
}

// RegisterRoutes registers the handler's routes
func (h *SyncHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/sync", h.HandleTriggerSync)
	router.GET("/platforms", h.HandleListPlatforms)
}
